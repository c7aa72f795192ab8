package storage

import (
	"context"

	"nervesim/internal/model"
)

// Store persists fascicle geometries, per-axon simulation records and the
// aggregated fascicle results.
type Store interface {
	Init(ctx context.Context) error
	SaveFascicle(ctx context.Context, fascicle model.Fascicle) error
	GetFascicle(ctx context.Context, id string) (model.Fascicle, bool, error)
	ListFascicles(ctx context.Context) ([]string, error)
	SaveAxonRecord(ctx context.Context, record model.AxonRecord) error
	GetAxonRecord(ctx context.Context, fascicleID string, axonID int) (model.AxonRecord, bool, error)
	ListAxonRecords(ctx context.Context, fascicleID string) ([]int, error)
	SaveResult(ctx context.Context, result model.FascicleResult) error
	GetResult(ctx context.Context, fascicleID string) (model.FascicleResult, bool, error)
}
