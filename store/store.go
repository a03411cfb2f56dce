// Package store provides access to the vector index and the update cursor.
package store

import (
	"context"

	"github.com/hrygo/siyuan-companion/internal/profile"
)

// Payload is the metadata persisted with every indexed point.
type Payload struct {
	BlockID    string
	DocumentID string
	Content    string
}

// Point is one indexed block. ID is derived deterministically from the
// block id, so upserting the same block replaces its prior point.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// Hit is a scored nearest-neighbor result.
type Hit struct {
	ID      uint64
	Score   float32
	Payload Payload
}

// Driver is an interface for manipulating the vector collection.
type Driver interface {
	// EnsureCollection creates the collection if absent and verifies that an
	// existing collection matches the given vector dimension.
	EnsureCollection(ctx context.Context, dim int) error

	// Upsert inserts or replaces points, keyed by point id. The whole batch
	// is submitted in one call.
	Upsert(ctx context.Context, points []Point) error

	// Delete removes points by id.
	Delete(ctx context.Context, ids []uint64) error

	// Query returns the nearest neighbors of vector. An empty collection
	// yields an empty result, not an error.
	Query(ctx context.Context, vector []float32, limit int) ([]Hit, error)

	// Recreate drops the collection and creates it again with the given
	// dimension.
	Recreate(ctx context.Context, dim int) error

	Close() error
}

// Store provides vector index access to the rest of the process.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	return s.driver.EnsureCollection(ctx, dim)
}

func (s *Store) Upsert(ctx context.Context, points []Point) error {
	return s.driver.Upsert(ctx, points)
}

func (s *Store) Delete(ctx context.Context, ids []uint64) error {
	return s.driver.Delete(ctx, ids)
}

func (s *Store) Query(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	return s.driver.Query(ctx, vector, limit)
}

func (s *Store) Recreate(ctx context.Context, dim int) error {
	return s.driver.Recreate(ctx, dim)
}
