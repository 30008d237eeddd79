package storage

import (
	"fmt"
	"path"
	"strings"
)

const uploadPrefix = "uploads"

// BaseUploadKey is where a custom mockup base image for a job is uploaded.
func BaseUploadKey(jobID string) string {
	return path.Join(uploadPrefix, cleanSegment(jobID), "base")
}

// LayerUploadKey is the upload location for design slot i of a job.
func LayerUploadKey(jobID string, slot int) string {
	return path.Join(uploadPrefix, cleanSegment(jobID), fmt.Sprintf("layer-%d", slot))
}

func cleanSegment(in string) string {
	in = strings.TrimSpace(in)
	in = strings.ReplaceAll(in, "/", "_")
	in = strings.ReplaceAll(in, "..", "_")
	if in == "" {
		return "unknown"
	}
	return in
}
