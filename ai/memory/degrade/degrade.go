// Package degrade reports memory features falling back to a no-op.
//
// Cache lookups become a MISS and retrievals return nothing when the embedding
// provider or the store fails. Report makes each fallback visible in logs and
// metrics.
package degrade

import (
	"context"
	"errors"

	"github.com/hrygo/mnemo/ai/core/embedding"
	"github.com/hrygo/mnemo/ai/metrics"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/store"
)

// Degradation kinds.
const (
	KindTimeout              = "timeout"
	KindEmbeddingUnavailable = "embedding_unavailable"
	KindDimensionMismatch    = "dimension_mismatch"
	KindStoreUnavailable     = "store_unavailable"
	KindOther                = "other"
)

// Kind classifies err. Timeouts win over the wrapping category.
func Kind(err error) string {
	switch {
	case store.IsTimeout(err):
		return KindTimeout
	case errors.Is(err, embedding.ErrUnavailable):
		return KindEmbeddingUnavailable
	case errors.Is(err, store.ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, store.ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindOther
	}
}

// Report logs a structured warning and counts the degradation. It returns the kind.
// Request fields carried by ctx (see logging.ToContext) are added to the record.
func Report(ctx context.Context, logger *logging.Logger, recorder metrics.Recorder, component, operation string, err error) string {
	kind := Kind(err)
	if logger == nil {
		logger = logging.Default()
	}
	logger.WithContext(ctx).Warn("memory degraded",
		"component", component,
		"operation", operation,
		"kind", kind,
		"error", err,
	)
	if recorder != nil {
		recorder.RecordDegradation(component, operation, kind)
	}
	return kind
}
