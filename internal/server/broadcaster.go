package server

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
)

// Broadcaster fans a message out to every registered client but one.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
	msink    metrics.MetricSink
}

// NewBroadcaster returns a Broadcaster delivering to the clients of registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger, msink metrics.MetricSink) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if msink == nil {
		msink = &metrics.BlackholeSink{}
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		msink:    msink,
	}
}

// Deliver writes msg to every client registered at the time of the call
// except exclude, and returns how many writes succeeded.
//
// A failed write only skips that recipient. The broadcaster never removes
// anyone from the registry: a dead connection is torn down by its own
// session when its read fails.
func (b *Broadcaster) Deliver(msg []byte, exclude uuid.UUID) int {
	recipients := b.registry.Snapshot(exclude)
	b.msink.IncrCounter(MetricBroadcastCount, 1)

	delivered := 0
	for _, rcpt := range recipients {
		if b.deliverTo(rcpt, msg) {
			delivered++
		}
	}

	b.logger.Debug("broadcast delivered",
		"targets", len(recipients),
		"delivered", delivered,
		"bytes", len(msg),
	)
	return delivered
}

func (b *Broadcaster) deliverTo(rcpt Recipient, msg []byte) bool {
	if _, err := rcpt.Out.Write(msg); err != nil {
		reason := "write"
		if isTimeout(err) {
			reason = "timeout"
		} else if isExpectedCloseError(err) {
			reason = "closed"
		}
		b.msink.IncrCounterWithLabels(MetricBroadcastDeliveryErrorCount, 1,
			[]metrics.Label{LabelError.M(reason)})
		b.logger.Debug("skipping recipient after write failure",
			LabelConn.L(rcpt.ID.String()),
			LabelError.L(err),
		)
		return false
	}
	b.msink.IncrCounter(MetricBroadcastDeliveredBytes, float32(len(msg)))
	return true
}
