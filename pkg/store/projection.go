package store

import (
	"context"
	"time"
)

// ProjectionStatus is the current operational status of a projection.
type ProjectionStatus string

const (
	ProjectionStatusReady      ProjectionStatus = "READY"
	ProjectionStatusRebuilding ProjectionStatus = "REBUILDING"
	ProjectionStatusFailed     ProjectionStatus = "FAILED"
	ProjectionStatusPaused     ProjectionStatus = "PAUSED"
)

// ProjectionState tracks the operational state of a projection, reported
// by health endpoints.
type ProjectionState struct {
	ProjectionName string
	Status         ProjectionStatus
	Message        string
	UpdatedAt      time.Time
	Progress       *RebuildProgress
}

// RebuildProgress tracks progress during a projection rebuild.
type RebuildProgress struct {
	EventsProcessed int64
	TotalEvents     int64 // 0 if unknown
	StartedAt       time.Time
	EstimatedETA    *time.Time
}

// ProjectionStatusStore persists projection status for monitoring and
// health reporting, independent of the checkpoint that drives replay.
type ProjectionStatusStore interface {
	Save(ctx context.Context, state ProjectionState) error
	Load(ctx context.Context, projectionName string) (ProjectionState, bool, error)
	UpdateProgress(ctx context.Context, projectionName string, progress RebuildProgress) error
}
