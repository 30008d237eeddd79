// Package generator adapts the external image-editing model that turns a flat
// composite into a photorealistic mockup.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/domain"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash-image-preview"

var (
	ErrMissingAPIKey = errors.New("generation api key is missing")
	ErrInvalidAPIKey = errors.New("generation api key is invalid")
	ErrNoImage       = errors.New("no image was generated in the response")
)

type Request struct {
	Image     []byte
	MimeType  string
	Intensity domain.Intensity
	APIKey    string
}

type Response struct {
	Image    []byte
	MimeType string
}

type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls the Gemini image model. A per-request APIKey overrides the
// configured one.
type Client struct {
	apiKey  string
	model   string
	timeout time.Duration
	models  func(ctx context.Context, apiKey string) (contentGenerator, error)
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func NewClient(cfg Config) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		apiKey:  cfg.APIKey,
		model:   model,
		timeout: timeout,
		models:  newGenaiModels,
	}
}

func newGenaiModels(ctx context.Context, apiKey string) (contentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client.Models, nil
}

func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(c.apiKey)
	}
	if apiKey == "" {
		return Response{}, ErrMissingAPIKey
	}
	if len(req.Image) == 0 {
		return Response{}, errors.New("composite image is empty")
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	models, err := c.models(ctx, apiKey)
	if err != nil {
		return Response{}, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, mimeType),
			genai.NewPartFromText(PromptForIntensity(req.Intensity)),
		}, genai.RoleUser),
	}
	resp, err := models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		if strings.Contains(err.Error(), "API key not valid") {
			return Response{}, fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
		}
		return Response{}, fmt.Errorf("generate content: %w", err)
	}

	return firstImage(resp)
}

func firstImage(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil {
		return Response{}, ErrNoImage
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return Response{Image: part.InlineData.Data, MimeType: part.InlineData.MIMEType}, nil
			}
		}
	}
	return Response{}, ErrNoImage
}
