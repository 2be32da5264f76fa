package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by the daemon's spans.
const (
	RelayIDKey    = "relay.id"
	RelayStateKey = "relay.state"

	SensorSourceKey = "sensor.source"
	SensorFieldKey  = "sensor.field"

	RuleIDKey   = "rule.id"
	RuleEdgeKey = "rule.edge"

	CommandKindKey = "command.kind"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// RelayAttributes describes one relay mutation.
func RelayAttributes(id string, state bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RelayIDKey, id),
		attribute.Bool(RelayStateKey, state),
	}
}

// SensorAttributes describes one sensor read or query.
func SensorAttributes(source, field string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(SensorSourceKey, source)}
	if field != "" {
		attrs = append(attrs, attribute.String(SensorFieldKey, field))
	}
	return attrs
}

// RuleAttributes describes one rule transition.
func RuleAttributes(id, edge string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RuleIDKey, id),
		attribute.String(RuleEdgeKey, edge),
	}
}

// ErrorAttributes marks a span failed with a coarse error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
