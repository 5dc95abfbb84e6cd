package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusExporter(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	t.Run("RecordCacheLookup", func(t *testing.T) {
		exporter.RecordCacheLookup("front", time.Millisecond)
		exporter.RecordCacheLookup("front", 2*time.Millisecond)
		exporter.RecordCacheLookup("miss", 30*time.Millisecond)

		assert.Equal(t, 2.0, testutil.ToFloat64(exporter.cacheLookups.WithLabelValues("front")))
		assert.Equal(t, 1.0, testutil.ToFloat64(exporter.cacheLookups.WithLabelValues("miss")))
	})

	t.Run("RecordDegradation", func(t *testing.T) {
		exporter.RecordDegradation("cache", "lookup", "embedding_unavailable")
		exporter.RecordDegradation("cache", "lookup", "embedding_unavailable")
		exporter.RecordDegradation("knowledge", "retrieve", "store_unavailable")

		assert.Equal(t, 2.0, testutil.ToFloat64(exporter.degradations.WithLabelValues("cache", "lookup", "embedding_unavailable")))
	})

	t.Run("RecordIndexed", func(t *testing.T) {
		exporter.RecordIndexed(3, 1)
		exporter.RecordIndexed(2, 0)

		assert.Equal(t, 5.0, testutil.ToFloat64(exporter.chunks.WithLabelValues("indexed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(exporter.chunks.WithLabelValues("skipped")))
	})

	t.Run("Gauges", func(t *testing.T) {
		exporter.SetFrontCacheSize(42)
		exporter.SetIndexerQueueDepth(3)

		assert.Equal(t, 42.0, testutil.ToFloat64(exporter.frontSize))
		assert.Equal(t, 3.0, testutil.ToFloat64(exporter.queueDepth))
	})

	t.Run("RecordPrune", func(t *testing.T) {
		exporter.RecordPrune("cache", 7)
		assert.Equal(t, 7.0, testutil.ToFloat64(exporter.pruned.WithLabelValues("cache")))
	})
}

func TestPrometheusExporterHandler(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	exporter.RecordCacheLookup("durable", 5*time.Millisecond)
	exporter.RecordCacheStore(true)
	exporter.RecordRetrieval(2, 10*time.Millisecond)
	exporter.RecordEmbedding("bge-m3", 20*time.Millisecond, false)

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	for _, name := range []string{
		"mnemo_memory_cache_lookups_total",
		"mnemo_memory_cache_stores_total",
		"mnemo_memory_retrieval_latency_seconds",
		"mnemo_memory_embedding_calls_total",
	} {
		assert.Contains(t, string(body), name)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	assert.NotPanics(t, func() {
		r.RecordCacheLookup("miss", 0)
		r.RecordDegradation("a", "b", "c")
		r.SetFrontCacheSize(1)
	})
}
