package server

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricSessionAcceptedCount        = []string{"relay", "session", "accepted", "count"}
	MetricSessionRejectedCount        = []string{"relay", "session", "rejected", "count"}
	MetricSessionJoinedCount          = []string{"relay", "session", "joined", "count"}
	MetricSessionLeftCount            = []string{"relay", "session", "left", "count"}
	MetricSessionProtocolViolations   = []string{"relay", "session", "protocol", "violation", "count"}
	MetricSessionMalformedCommands    = []string{"relay", "session", "malformed", "command", "count"}
	MetricRegistryClients             = []string{"relay", "registry", "clients"}
	MetricBroadcastCount              = []string{"relay", "broadcast", "count"}
	MetricBroadcastDeliveredBytes     = []string{"relay", "broadcast", "delivered", "bytes"}
	MetricBroadcastDeliveryErrorCount = []string{"relay", "broadcast", "delivery", "error", "count"}
	MetricListenerAcceptErrorCount    = []string{"relay", "listener", "accept", "error", "count"}
)

// TelemetryLabel names an attribute shared by logs and metrics.
type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelConn      TelemetryLabel = "conn"
	LabelRemote    TelemetryLabel = "remote"
	LabelName      TelemetryLabel = "name"
	LabelTransport TelemetryLabel = "transport"
)

// M builds a metric label.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L builds a log attribute.
func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
