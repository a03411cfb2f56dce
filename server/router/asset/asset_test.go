package asset

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	assets   []string
	err      error
	suffixes []string
}

func (f *fakeLister) ListAssets(ctx context.Context, suffixes ...string) ([]string, error) {
	f.suffixes = suffixes
	return f.assets, f.err
}

func newAssetRouter(lister Lister) *echo.Echo {
	e := echo.New()
	NewAssetService(lister).RegisterRoutes(e.Group(""))
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAssetService_ListAssets(t *testing.T) {
	lister := &fakeLister{assets: []string{"a.png", "sub/b.wav"}}
	e := newAssetRouter(lister)

	rec := get(e, "/assets")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["a.png","sub/b.wav"]`, rec.Body.String())
	assert.Empty(t, lister.suffixes)
}

func TestAssetService_ListAssetsSuffixFilter(t *testing.T) {
	lister := &fakeLister{assets: []string{"a.png"}}
	e := newAssetRouter(lister)

	rec := get(e, "/assets?suffix=.png&suffix=.wav")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{".png", ".wav"}, lister.suffixes)
}

func TestAssetService_ListAssetsEmpty(t *testing.T) {
	e := newAssetRouter(&fakeLister{})

	rec := get(e, "/assets")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAssetService_ListAssetsUpstreamError(t *testing.T) {
	e := newAssetRouter(&fakeLister{err: errors.New("kernel down")})

	rec := get(e, "/assets")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"failed to communicate with SiYuan server"}`, rec.Body.String())
}
