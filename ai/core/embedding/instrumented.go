package embedding

import (
	"context"
	"time"

	"github.com/hrygo/mnemo/ai/metrics"
)

type instrumented struct {
	Provider
	recorder metrics.Recorder
}

// WithMetrics records latency and outcome of every Embed call.
func WithMetrics(p Provider, recorder metrics.Recorder) Provider {
	if recorder == nil {
		return p
	}
	return &instrumented{Provider: p, recorder: recorder}
}

func (i *instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := i.Provider.Embed(ctx, text)
	i.recorder.RecordEmbedding(i.Model(), time.Since(start), err == nil)
	return vec, err
}
