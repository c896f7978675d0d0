package agent

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bueller/bueller/internal/telemetry"
)

const (
	defaultInitialInterval = time.Second
	maxRetryElapsed        = 2 * time.Minute
)

// retryPolicy controls API call retries.
type retryPolicy struct {
	retries         int
	initialInterval time.Duration
	retryable       func(error) bool
}

// do runs op until it succeeds, fails permanently, exhausts the retries or
// ctx is done.
func (p retryPolicy) do(ctx context.Context, op func() error) (attempts int, err error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = defaultInitialInterval
	}
	bo.MaxElapsedTime = maxRetryElapsed

	retries := p.retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)

	err = backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil && ctx.Err() != nil {
		return attempts, ctx.Err()
	}
	return attempts, err
}

// isTransient reports whether err is a network timeout worth retrying.
// Cancellation never is.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// aiMetrics holds lazily-initialized OTel instruments for API backends.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

const instrumentationScope = "github.com/bueller/bueller/agent"

func initAIMetrics() {
	m := telemetry.Meter(instrumentationScope)
	aiMetrics.inputTokens, _ = m.Int64Counter("bueller.agent.input_tokens",
		metric.WithDescription("Agent API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("bueller.agent.output_tokens",
		metric.WithDescription("Agent API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("bueller.agent.request.duration",
		metric.WithDescription("Agent API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func recordUsage(ctx context.Context, backend, model string, in, out int64, elapsed time.Duration) {
	aiMetricsOnce.Do(initAIMetrics)
	attrs := metric.WithAttributes(
		attribute.String("bueller.agent.backend", backend),
		attribute.String("bueller.agent.model", model),
	)
	if aiMetrics.inputTokens != nil {
		aiMetrics.inputTokens.Add(ctx, in, attrs)
		aiMetrics.outputTokens.Add(ctx, out, attrs)
		aiMetrics.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}
