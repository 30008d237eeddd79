package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/compose"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusComposited = "composited"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
	JobStatusEnhancing  = "enhancing"
	JobStatusEnhanced   = "enhanced"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	DefaultEnhanceFactor = 2
	MaxEnhanceFactor     = 4
)

type CreateJobRequest struct {
	SourceType    string            `json:"source_type"`
	ProjectID     string            `json:"project_id,omitempty"`
	MockupID      string            `json:"mockup_id,omitempty"`
	BaseObjectKey string            `json:"base_object_key,omitempty"`
	Layers        []*LayerSpec      `json:"layers"`
	Viewport      *compose.Viewport `json:"viewport,omitempty"`
	Intensity     string            `json:"intensity,omitempty"`
	WebhookURL    string            `json:"webhook_url,omitempty"`
}

// LayerSpec is one design slot of a job. A nil entry in a slot list is an
// empty slot.
type LayerSpec struct {
	ObjectKey string                 `json:"object_key,omitempty"`
	MimeType  string                 `json:"mime_type,omitempty"`
	Transform compose.LayerTransform `json:"transform"`
}

// UnmarshalJSON treats a missing transform.opacity as fully opaque and a
// missing rotation as 0, the same defaults saved projects load with.
func (l *LayerSpec) UnmarshalJSON(data []byte) error {
	var wire struct {
		ObjectKey string `json:"object_key"`
		MimeType  string `json:"mime_type"`
		Transform struct {
			X        float64  `json:"x"`
			Y        float64  `json:"y"`
			Width    float64  `json:"width"`
			Height   float64  `json:"height"`
			Opacity  *float64 `json:"opacity"`
			Rotation *float64 `json:"rotation"`
		} `json:"transform"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t := wire.Transform
	*l = LayerSpec{
		ObjectKey: wire.ObjectKey,
		MimeType:  wire.MimeType,
		Transform: resolveTransform(t.X, t.Y, t.Width, t.Height, t.Opacity, t.Rotation),
	}
	return nil
}

type EnhanceRequest struct {
	Factor int `json:"factor,omitempty"`
}

type Job struct {
	ID            string
	UserID        string
	Status        string
	SourceType    string
	MockupID      string
	BaseObjectKey string
	Layers        []*LayerSpec
	Viewport      compose.Viewport
	Intensity     Intensity
	WebhookURL    string
	CompositeKey  string
	OutputKey     string
	EnhancedKey   string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	slots := 1
	if id := strings.TrimSpace(r.MockupID); id != "" {
		mockup, ok := FindMockup(id)
		if !ok {
			return fmt.Errorf("unknown mockup_id: %s", id)
		}
		slots = mockup.DesignAreas
	} else if strings.TrimSpace(r.BaseObjectKey) == "" && sourceType != SourceTypeS3Presigned {
		return errors.New("mockup_id or base_object_key is required")
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.BaseObjectKey) == "" {
		return errors.New("base_object_key is required for source_type=local_file")
	}

	if len(r.Layers) != slots {
		return fmt.Errorf("layers must have %d slot(s), got %d", slots, len(r.Layers))
	}
	populated := 0
	for i, layer := range r.Layers {
		if layer == nil {
			continue
		}
		populated++
		if sourceType == SourceTypeLocalFile && strings.TrimSpace(layer.ObjectKey) == "" {
			return fmt.Errorf("layers[%d].object_key is required for source_type=local_file", i)
		}
		if !(layer.Transform.Width > 0) || !(layer.Transform.Height > 0) {
			return fmt.Errorf("layers[%d].transform width and height must be positive", i)
		}
		if layer.Transform.Opacity < 0 || layer.Transform.Opacity > 1 {
			return fmt.Errorf("layers[%d].transform.opacity must be within [0,1]", i)
		}
	}
	if populated == 0 {
		return errors.New("at least one design layer is required")
	}

	if r.Viewport != nil && (!(r.Viewport.Width > 0) || !(r.Viewport.Height > 0)) {
		return errors.New("viewport width and height must be positive")
	}
	if _, err := ParseIntensity(r.Intensity); err != nil {
		return err
	}
	return nil
}

// ViewportOrDefault returns the reported editor size, or the square default
// editor when the client did not send one.
func (r CreateJobRequest) ViewportOrDefault() compose.Viewport {
	if r.Viewport == nil {
		return compose.Viewport{Width: compose.DefaultEditorSize, Height: compose.DefaultEditorSize}
	}
	return *r.Viewport
}

func (r EnhanceRequest) FactorOrDefault() (int, error) {
	if r.Factor == 0 {
		return DefaultEnhanceFactor, nil
	}
	if r.Factor < 1 || r.Factor > MaxEnhanceFactor {
		return 0, fmt.Errorf("factor must be within [1,%d]", MaxEnhanceFactor)
	}
	return r.Factor, nil
}
