package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/mockupflow/internal/compose"
	"github.com/dunamismax/mockupflow/internal/domain"
	"github.com/hibiken/asynq"
)

const (
	TypeComposeMockup = "mockup:compose"
	TypeEnhanceImage  = "mockup:enhance"
)

type ComposeMockupPayload struct {
	JobID         string              `json:"job_id"`
	SourceType    string              `json:"source_type"`
	WebhookURL    string              `json:"webhook_url,omitempty"`
	BaseObjectKey string              `json:"base_object_key"`
	Layers        []*domain.LayerSpec `json:"layers"`
	Viewport      compose.Viewport    `json:"viewport"`
	Intensity     domain.Intensity    `json:"intensity"`
	RequestedAt   time.Time           `json:"requested_at"`
}

type EnhanceImagePayload struct {
	JobID       string    `json:"job_id"`
	SourceType  string    `json:"source_type"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	ObjectKey   string    `json:"object_key"`
	Factor      int       `json:"factor"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewComposeMockupTask(payload ComposeMockupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal compose payload: %w", err)
	}
	return asynq.NewTask(TypeComposeMockup, body), nil
}

func ParseComposeMockupPayload(task *asynq.Task) (ComposeMockupPayload, error) {
	var payload ComposeMockupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ComposeMockupPayload{}, fmt.Errorf("unmarshal compose payload: %w", err)
	}
	return payload, nil
}

func NewEnhanceImageTask(payload EnhanceImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal enhance payload: %w", err)
	}
	return asynq.NewTask(TypeEnhanceImage, body), nil
}

func ParseEnhanceImagePayload(task *asynq.Task) (EnhanceImagePayload, error) {
	var payload EnhanceImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return EnhanceImagePayload{}, fmt.Errorf("unmarshal enhance payload: %w", err)
	}
	return payload, nil
}
