// Package server assembles the HTTP surface and background services of the
// companion.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/siyuan-companion/ai"
	"github.com/hrygo/siyuan-companion/ai/metrics"
	"github.com/hrygo/siyuan-companion/ai/rag"
	"github.com/hrygo/siyuan-companion/ai/tokenizer"
	"github.com/hrygo/siyuan-companion/internal/profile"
	"github.com/hrygo/siyuan-companion/server/router/asset"
	"github.com/hrygo/siyuan-companion/server/router/openai"
	"github.com/hrygo/siyuan-companion/server/service/index"
	"github.com/hrygo/siyuan-companion/siyuan"
	"github.com/hrygo/siyuan-companion/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	notes      *siyuan.Client
	worker     *index.Worker
}

func NewServer(ctx context.Context, profile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	notes := siyuan.NewClient(profile.SiyuanURL, profile.SiyuanToken)

	aiConfig := ai.NewConfigFromProfile(profile)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ai configuration: %w", err)
	}

	embedder, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	// The collection must exist with the configured dimension before anything
	// is indexed or queried; a mismatch here is fatal.
	if err := storeInstance.EnsureCollection(ctx, embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("failed to ensure vector collection: %w", err)
	}

	if version, err := notes.Version(ctx); err != nil {
		slog.Warn("siyuan kernel not reachable yet", "url", profile.SiyuanURL, "error", err)
	} else {
		slog.Info("connected to siyuan kernel", "version", version)
	}

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	registry := tokenizer.NewRegistry(aiConfig.TokenizerModel)
	engine := rag.NewEngine(aiConfig, storeInstance, notes, embedder, registry, exporter)

	worker := index.NewWorker(notes, engine, storeInstance, exporter, index.Config{
		Interval:    profile.IndexInterval,
		ForceUpdate: profile.ForceUpdateIndex,
	})

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true

	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())

	// Health stays reachable without a token so orchestrators can probe it.
	echoServer.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "healthy"})
	})

	protected := echoServer.Group("", bearerAuth(profile.CompanionToken))
	protected.GET("/metrics", echo.WrapHandler(exporter.GetHandler()))

	openai.NewOpenAIService(profile, engine, exporter).RegisterRoutes(protected)
	asset.NewAssetService(notes).RegisterRoutes(protected)

	return &Server{
		Profile:    profile,
		Store:      storeInstance,
		echoServer: echoServer,
		notes:      notes,
		worker:     worker,
	}, nil
}

// Start launches the index worker and the HTTP listener. It returns
// immediately; listener errors are logged from the serving goroutine.
func (s *Server) Start(_ context.Context) error {
	s.worker.Start()

	go func() {
		address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s.worker.Stop()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	s.notes.Close()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("server stopped properly")
}

// bearerAuth gates every route behind the companion token. An empty token
// disables the check.
func bearerAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authorization header is missing"})
			}

			presented := strings.TrimPrefix(header, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid companion token"})
			}

			return next(c)
		}
	}
}
