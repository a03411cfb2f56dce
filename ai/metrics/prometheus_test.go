package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusExporter(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	t.Run("RecordSweep", func(t *testing.T) {
		exporter.RecordSweep(100*time.Millisecond, 12, true)
		exporter.RecordSweep(200*time.Millisecond, 0, true)
		exporter.RecordSweep(150*time.Millisecond, 0, false)
	})

	t.Run("RecordRetrieval", func(t *testing.T) {
		exporter.RecordRetrieval("search", 50*time.Millisecond, true)
		exporter.RecordRetrieval("context", 100*time.Millisecond, false)
	})

	t.Run("RecordProxyRequest", func(t *testing.T) {
		exporter.RecordProxyRequest("chat_completions", "rag", 200, 500*time.Millisecond)
		exporter.RecordProxyRequest("completions", "direct", 502, 50*time.Millisecond)
	})
}

func TestPrometheusExporterHandler(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	// Record some metrics
	exporter.RecordSweep(100*time.Millisecond, 3, true)
	exporter.RecordRetrieval("search", 50*time.Millisecond, true)
	exporter.RecordProxyRequest("chat_completions", "rag", 200, 500*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()

	exporter.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "companion_index_sweeps_total") {
		t.Error("expected index_sweeps_total metric in output")
	}
	if !strings.Contains(body, "companion_index_blocks_total") {
		t.Error("expected index_blocks_total metric in output")
	}
	if !strings.Contains(body, "companion_rag_requests_total") {
		t.Error("expected rag_requests_total metric in output")
	}
	if !strings.Contains(body, "companion_proxy_requests_total") {
		t.Error("expected proxy_requests_total metric in output")
	}
}

func TestPrometheusExporterCustomRegistry(t *testing.T) {
	customReg := NewPrometheusExporter(Config{})
	customReg.RecordRetrieval("search", 50*time.Millisecond, true)

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()

	customReg.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func BenchmarkPrometheusExporter(b *testing.B) {
	exporter := NewPrometheusExporter(DefaultConfig())

	b.Run("RecordSweep", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			exporter.RecordSweep(100*time.Millisecond, 5, true)
		}
	})

	b.Run("RecordRetrieval", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			exporter.RecordRetrieval("search", 50*time.Millisecond, true)
		}
	})
}
