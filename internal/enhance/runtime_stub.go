//go:build !govips || !cgo

package enhance

import "github.com/dunamismax/mockupflow/internal/raster"

const vipsAvailable = false

func Startup() error {
	return nil
}

func Shutdown() {}

func vipsResize(_ *raster.Raster, _ int) (*raster.Raster, error) {
	return nil, errVipsUnavailable
}
