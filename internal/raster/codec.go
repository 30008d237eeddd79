package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"
)

const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWebP = "image/webp"

	jpegQuality = 90
)

// Decode turns encoded bytes into a raster. An empty mimeType sniffs the
// content; a non-empty one must name a supported format.
func Decode(ctx context.Context, data []byte, mimeType string) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	mimeType = NormalizeMime(mimeType)
	if mimeType == "" {
		mimeType = NormalizeMime(http.DetectContentType(data))
	}

	var (
		img image.Image
		err error
	)
	switch mimeType {
	case MimePNG:
		img, err = png.Decode(bytes.NewReader(data))
	case MimeJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case MimeWebP:
		img, _, err = image.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: unsupported mime type %q", ErrDecode, mimeType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	out, err := FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}

// Encode serialises r. PNG is the canonical interchange format.
func Encode(r *Raster, mimeType string) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	var buf bytes.Buffer
	switch NormalizeMime(mimeType) {
	case MimePNG, "":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, r.NRGBA()); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
	case MimeJPEG:
		if err := jpeg.Encode(&buf, r.NRGBA(), &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported mime type %q", ErrEncode, mimeType)
	}
	return buf.Bytes(), nil
}

func NormalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpg", "jpg", "jpeg":
		return MimeJPEG
	case "png":
		return MimePNG
	case "webp":
		return MimeWebP
	case "application/octet-stream":
		return ""
	default:
		return mimeType
	}
}

// FormatForMime maps a mime type to the short format name used in object keys.
func FormatForMime(mimeType string) string {
	switch NormalizeMime(mimeType) {
	case MimeJPEG:
		return "jpeg"
	case MimeWebP:
		return "webp"
	default:
		return "png"
	}
}
