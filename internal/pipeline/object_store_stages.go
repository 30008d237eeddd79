package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/mockupflow/internal/raster"
)

type objectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage objectStorage
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return f.Storage.ReadObject(ctx, key)
}

type ObjectStoreEmitter struct {
	Storage      objectStorage
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, jobID, name string, data []byte, mimeType string, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(name) == "" {
		return Output{}, errors.New("output name is required")
	}

	format := raster.FormatForMime(mimeType)
	objectKey := OutputObjectKey(e.OutputPrefix, jobID, name, format)

	if err := e.Storage.WriteObject(ctx, objectKey, data, contentTypeForFormat(format)); err != nil {
		return Output{}, err
	}

	return Output{
		Name:    name,
		Format:  format,
		Path:    objectKey,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, opts Options) (*Processor, error) {
	return NewProcessor(fetcher, emitter, opts)
}

// OutputObjectKey is where an emitted output for a job lands in the bucket.
func OutputObjectKey(prefix, jobID, name, format string) string {
	return path.Join(
		defaultOutputPrefix(prefix),
		sanitizePathToken(jobID),
		fmt.Sprintf("%s.%s", sanitizePathToken(name), format),
	)
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}

func contentTypeForFormat(format string) string {
	switch format {
	case "jpeg":
		return raster.MimeJPEG
	case "webp":
		return raster.MimeWebP
	default:
		return raster.MimePNG
	}
}
