package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/echoverse/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Kind labels the provider family ("llm", "tts") in metrics.
	Kind string

	// CircuitBreaker is the template for every per-entry breaker. Its Name
	// is replaced with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Metrics receives per-attempt counters. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	metrics *observe.Metrics
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fg := &FallbackGroup[T]{cfg: cfg, metrics: m}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in failover order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Primary returns the first registered entry.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. Entries with an open breaker are
// skipped. Failover stops as soon as ctx is done. When every entry fails the
// returned error wraps both [ErrAllFailed] and the last entry's error, so
// callers can still classify the underlying cause with errors.Is.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		if err == nil {
			fg.metrics.RecordProviderRequest(ctx, entry.name, fg.cfg.Kind, "ok")
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			fg.metrics.RecordProviderRequest(ctx, entry.name, fg.cfg.Kind, "skipped")
			slog.DebugContext(ctx, "skipping provider (circuit open)", "provider", entry.name)
			continue
		}
		fg.metrics.RecordProviderRequest(ctx, entry.name, fg.cfg.Kind, "error")
		fg.metrics.RecordProviderError(ctx, entry.name, fg.cfg.Kind)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}
		if i < len(fg.entries)-1 {
			slog.WarnContext(ctx, "provider failed, trying next",
				"provider", entry.name, "kind", fg.cfg.Kind, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
