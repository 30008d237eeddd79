package domain

import (
	"fmt"
	"strings"
)

// Intensity is forwarded to the generation service; the pipeline never
// interprets it.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

func ParseIntensity(in string) (Intensity, error) {
	switch Intensity(strings.ToLower(strings.TrimSpace(in))) {
	case "", IntensityMedium:
		return IntensityMedium, nil
	case IntensityLow:
		return IntensityLow, nil
	case IntensityHigh:
		return IntensityHigh, nil
	default:
		return "", fmt.Errorf("unsupported intensity: %s", in)
	}
}
