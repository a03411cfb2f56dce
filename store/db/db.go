// Package db selects the concrete vector store driver.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/siyuan-companion/internal/profile"
	"github.com/hrygo/siyuan-companion/store"
	"github.com/hrygo/siyuan-companion/store/db/postgres"
	"github.com/hrygo/siyuan-companion/store/db/qdrant"
)

// NewDriver creates a new vector store driver based on the profile.
func NewDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.VectorDriver {
	case "qdrant":
		return qdrant.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown vector driver %q", profile.VectorDriver)
	}
}
