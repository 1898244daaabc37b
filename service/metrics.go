package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/frak-labs/framesession/service"

// metrics groups the counters of the wallet session layer. They are recorded
// against the global meter provider, a no-op unless the host installs one.
type metrics struct {
	handshakes   metric.Int64Counter
	backups      metric.Int64Counter
	tokens       metric.Int64Counter
	interactions metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	return &metrics{
		handshakes:   counter(meter, "framesession.handshakes", "Handshakes by outcome", "{handshake}"),
		backups:      counter(meter, "framesession.backups", "Backup operations by outcome", "{backup}"),
		tokens:       counter(meter, "framesession.token.resolutions", "Scoped token resolutions by tier", "{resolution}"),
		interactions: counter(meter, "framesession.pending.interactions", "Pending interactions by operation", "{interaction}"),
	}
}

func counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func record(c metric.Int64Counter, outcome string, n int) {
	if n <= 0 {
		return
	}
	c.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}
