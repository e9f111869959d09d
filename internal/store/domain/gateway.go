package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/booksight/internal/analytics"
	"github.com/smallbiznis/booksight/internal/identity"
	"github.com/smallbiznis/booksight/internal/linker"
)

// RunArtifacts is everything one successful pipeline run persists.
type RunArtifacts struct {
	RunID       snowflake.ID
	Fingerprint string
	StartedAt   time.Time
	CompletedAt time.Time

	Resolution   *identity.Resolution
	Transactions []linker.LinkedTransaction
	Report       analytics.Report

	RowsSkipped     int
	RowsFailed      int
	UnresolvedLinks int
}

// Gateway is the persistence boundary of the pipeline. The core never
// issues queries itself; a run is stored whole or not at all.
type Gateway interface {
	// LoadExistingFingerprint returns the fingerprint of the latest
	// completed run, or "" when none exists.
	LoadExistingFingerprint(ctx context.Context) (string, error)

	// SaveRun atomically replaces the published record sets with the
	// given run's output.
	SaveRun(ctx context.Context, run RunArtifacts) error

	// LoadMetrics returns the published metrics, or nil when no run
	// has completed yet.
	LoadMetrics(ctx context.Context) (*analytics.Report, error)
}
