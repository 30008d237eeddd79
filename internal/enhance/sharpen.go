package enhance

import (
	"context"

	"github.com/dunamismax/mockupflow/internal/raster"
)

// Sharpen convolves the interior pixels' RGB with
//
//	 0 -1  0
//	-1  5 -1
//	 0 -1  0
//
// clamping to [0,255]. Alpha and the outer one-pixel ring are copied unchanged.
// The kernel sums to 1, so uniform regions are preserved.
func Sharpen(ctx context.Context, img *raster.Raster) (*raster.Raster, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	out := img.Clone()
	if img.Width < 3 || img.Height < 3 {
		return out, nil
	}

	src := img.Pix
	stride := img.Stride()
	for y := 1; y < img.Height-1; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := y * stride
		for x := 1; x < img.Width-1; x++ {
			i := row + x*4
			for c := i; c < i+3; c++ {
				v := 5*int(src[c]) - int(src[c-4]) - int(src[c+4]) - int(src[c-stride]) - int(src[c+stride])
				out.Pix[c] = clampByte(v)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
