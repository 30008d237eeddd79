package domain

import "time"

const (
	UsageStageComposite = "composite"
	UsageStageEnhance   = "enhance"
)

type UsageLog struct {
	UserID          string
	JobID           string
	Stage           string
	PixelsProcessed int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
