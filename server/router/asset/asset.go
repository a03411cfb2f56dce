// Package asset exposes the workspace asset listing backed by the notes
// server's file tree.
package asset

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Lister walks the workspace assets directory.
type Lister interface {
	ListAssets(ctx context.Context, suffixes ...string) ([]string, error)
}

// AssetService serves the asset listing route.
type AssetService struct {
	lister Lister
}

func NewAssetService(lister Lister) *AssetService {
	return &AssetService{lister: lister}
}

// RegisterRoutes mounts the asset routes on the group.
func (s *AssetService) RegisterRoutes(g *echo.Group) {
	g.GET("/assets", s.listAssets)
}

// listAssets returns asset paths relative to the assets root as a bare JSON
// array, filtered by the repeated suffix query parameter when present.
func (s *AssetService) listAssets(c echo.Context) error {
	suffixes := c.QueryParams()["suffix"]

	assets, err := s.lister.ListAssets(c.Request().Context(), suffixes...)
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "failed to list assets", "error", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "failed to communicate with SiYuan server"})
	}
	if assets == nil {
		assets = []string{}
	}

	return c.JSON(http.StatusOK, assets)
}
