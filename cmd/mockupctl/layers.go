package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/mockupflow/internal/compose"
)

// layerSpec is one --layer flag: "path" for the default placement, or
// "path@x,y,w,h[,opacity[,rotation]]" in editor coordinates. "-" is an empty
// slot.
type layerSpec struct {
	Path      string
	Transform *compose.LayerTransform
}

func parseLayerSpec(in string) (*layerSpec, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return nil, fmt.Errorf("empty layer spec")
	}
	if in == "-" {
		return nil, nil
	}

	at := strings.LastIndex(in, "@")
	if at < 0 {
		return &layerSpec{Path: in}, nil
	}
	path, geometry := in[:at], in[at+1:]
	if path == "" {
		return nil, fmt.Errorf("layer %q: missing path", in)
	}

	fields := strings.Split(geometry, ",")
	if len(fields) < 4 || len(fields) > 6 {
		return nil, fmt.Errorf("layer %q: want x,y,w,h[,opacity[,rotation]]", in)
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", in, err)
		}
		values[i] = v
	}

	t := compose.LayerTransform{X: values[0], Y: values[1], Width: values[2], Height: values[3], Opacity: 1}
	if len(values) > 4 {
		t.Opacity = values[4]
	}
	if len(values) > 5 {
		t.RotationDegrees = values[5]
	}
	return &layerSpec{Path: path, Transform: &t}, nil
}

func parseViewport(in string) (compose.Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(in)), "x")
	if !ok {
		return compose.Viewport{}, fmt.Errorf("viewport %q: want WIDTHxHEIGHT", in)
	}
	width, err := strconv.ParseFloat(w, 64)
	if err != nil {
		return compose.Viewport{}, fmt.Errorf("viewport %q: %w", in, err)
	}
	height, err := strconv.ParseFloat(h, 64)
	if err != nil {
		return compose.Viewport{}, fmt.Errorf("viewport %q: %w", in, err)
	}
	if !(width > 0) || !(height > 0) {
		return compose.Viewport{}, fmt.Errorf("viewport %q: dimensions must be positive", in)
	}
	return compose.Viewport{Width: width, Height: height}, nil
}

func parseSwap(in string) (int, int, error) {
	a, b, ok := strings.Cut(in, ",")
	if !ok {
		return 0, 0, fmt.Errorf("swap %q: want i,j", in)
	}
	i, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("swap %q: %w", in, err)
	}
	j, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, fmt.Errorf("swap %q: %w", in, err)
	}
	return i, j, nil
}
