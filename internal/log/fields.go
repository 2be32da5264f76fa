package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldRequestID = "request_id"
	FieldCommandID = "command_id"

	// Hardware fields
	FieldRelayID  = "relay_id"
	FieldSensorID = "sensor_id"
	FieldGPIOLine = "gpio_line"
	FieldBusAddr  = "bus_addr"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Rule fields
	FieldRuleID   = "rule_id"
	FieldRuleName = "rule_name"
)
