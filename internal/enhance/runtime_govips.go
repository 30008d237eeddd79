//go:build govips && cgo

package enhance

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/mockupflow/internal/raster"
)

const vipsAvailable = true

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func vipsResize(img *raster.Raster, factor int) (*raster.Raster, error) {
	encoded, err := raster.Encode(img, raster.MimePNG)
	if err != nil {
		return nil, err
	}

	ref, err := vips.NewImageFromBuffer(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: vips load: %v", raster.ErrDecode, err)
	}
	defer ref.Close()

	if err := ref.Resize(float64(factor), vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("vips resize: %w", err)
	}

	data, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("%w: vips png: %v", raster.ErrEncode, err)
	}
	return raster.Decode(context.Background(), data, raster.MimePNG)
}
