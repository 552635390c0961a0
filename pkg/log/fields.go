package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Process
	FieldComponent = "component"

	// Coordination
	FieldServiceID = "service_id"
	FieldLanguage  = "language"
	FieldChannel   = "channel"
	FieldSocketID  = "socket_id"
	FieldAudience  = "audience"
	FieldEvent     = "event"
	FieldLiveState = "live_state"
	FieldCount     = "count"
)
