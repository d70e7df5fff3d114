package llm

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives the outcome of every LLM request.
type Observer func(model string, d time.Duration, usage Usage, err error)

// LoggingProvider logs every request and reports it to an optional
// Observer.
type LoggingProvider struct {
	inner    Provider
	observer Observer
}

// WithLogging wraps a Provider with request logging.
func WithLogging(p Provider, observer Observer) Provider {
	return &LoggingProvider{inner: p, observer: observer}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	elapsed := time.Since(start)

	var usage Usage
	model := l.inner.ModelID()
	if resp != nil {
		usage = resp.Usage
		if resp.Model != "" {
			model = resp.Model
		}
	}
	if err != nil {
		slog.Warn("LLM request failed", "model", model, "latency_ms", elapsed.Milliseconds(), "error", err)
	} else {
		slog.Info("LLM request",
			"model", model,
			"latency_ms", elapsed.Milliseconds(),
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
		)
	}
	if l.observer != nil {
		l.observer(model, elapsed, usage, err)
	}
	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}
