package provider

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// wireMessages flattens messages into the role/content maps every
// backend speaks
func wireMessages(messages []Message) []map[string]string {
	out := make([]map[string]string, len(messages))
	for i, msg := range messages {
		out[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}
	return out
}

// retryableStatus treats rate limiting and server-side failures as
// transient; everything else is a caller problem
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// recordCallDuration records the upstream request duration histogram
func recordCallDuration(ctx context.Context, meter metric.Meter, d time.Duration) {
	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(d.Milliseconds()))
	}
}
