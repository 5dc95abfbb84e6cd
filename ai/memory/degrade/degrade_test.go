package degrade

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/hrygo/mnemo/ai/core/embedding"
	"github.com/hrygo/mnemo/ai/metrics"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/store"
)

type recorder struct {
	metrics.Nop
	calls []string
}

func (r *recorder) RecordDegradation(component, operation, kind string) {
	r.calls = append(r.calls, component+"/"+operation+"/"+kind)
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped cancel", errors.Wrap(context.Canceled, "list"), KindTimeout},
		{"embedding", embedding.Unavailable("m", errors.New("503")), KindEmbeddingUnavailable},
		{"embedding timeout", embedding.Unavailable("m", context.DeadlineExceeded), KindTimeout},
		{"dimension", &store.DimensionMismatchError{OwnerID: "o", Expected: 3, Got: 4}, KindDimensionMismatch},
		{"store", errors.Wrap(store.ErrStoreUnavailable, "db"), KindStoreUnavailable},
		{"other", errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup(&buf, false, logging.LevelDebug)
	rec := &recorder{}

	ctx := logging.ToContext(context.Background(), logging.Default().WithField("request_id", "req-42"))
	kind := Report(ctx, logger, rec, "cache", "lookup", embedding.Unavailable("m", errors.New("down")))

	assert.Equal(t, KindEmbeddingUnavailable, kind)
	assert.Equal(t, []string{"cache/lookup/embedding_unavailable"}, rec.calls)
	assert.Contains(t, buf.String(), "memory degraded")
	assert.Contains(t, buf.String(), "embedding_unavailable")
	assert.Contains(t, buf.String(), "req-42")

	// nil collaborators are tolerated
	assert.Equal(t, KindOther, Report(context.Background(), nil, nil, "x", "y", errors.New("z")))
}
