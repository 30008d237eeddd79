package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/compose"
)

// Project is a saved editor state: the selected mockup and its design slots.
type Project struct {
	ID       string          `json:"id"`
	MockupID string          `json:"mockup_id"`
	Layers   []*ProjectLayer `json:"layers"`
	SavedAt  time.Time       `json:"saved_at"`
}

// ProjectLayer keeps opacity and rotation optional so projects saved before
// those controls existed still load.
type ProjectLayer struct {
	ObjectKey string   `json:"object_key"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Width     float64  `json:"width"`
	Height    float64  `json:"height"`
	Opacity   *float64 `json:"opacity,omitempty"`
	Rotation  *float64 `json:"rotation,omitempty"`
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.MockupID) == "" {
		return errors.New("mockup_id is required")
	}
	return nil
}

// Transform resolves the saved placement, defaulting opacity to 1 and
// rotation to 0.
func (l ProjectLayer) Transform() compose.LayerTransform {
	return resolveTransform(l.X, l.Y, l.Width, l.Height, l.Opacity, l.Rotation)
}

func resolveTransform(x, y, width, height float64, opacity, rotation *float64) compose.LayerTransform {
	t := compose.LayerTransform{X: x, Y: y, Width: width, Height: height, Opacity: 1}
	if opacity != nil {
		t.Opacity = *opacity
	}
	if rotation != nil {
		t.RotationDegrees = *rotation
	}
	return t
}

// LayerSpecs converts the saved slots into job layers, keeping empty slots.
func (p Project) LayerSpecs() []*LayerSpec {
	out := make([]*LayerSpec, len(p.Layers))
	for i, layer := range p.Layers {
		if layer == nil {
			continue
		}
		out[i] = &LayerSpec{ObjectKey: layer.ObjectKey, Transform: layer.Transform()}
	}
	return out
}

// ApplyTo fills the parts of a job request the caller left out: the mockup
// and, when no layers were sent, the saved slots.
func (p Project) ApplyTo(req *CreateJobRequest) {
	if strings.TrimSpace(req.MockupID) == "" && strings.TrimSpace(req.BaseObjectKey) == "" {
		req.MockupID = p.MockupID
	}
	if len(req.Layers) == 0 {
		req.Layers = p.LayerSpecs()
	}
}
