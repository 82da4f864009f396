package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService = "service"

	// Relay
	FieldRoomID     = "room_id"
	FieldClientID   = "client_id"
	FieldUserID     = "user_id"
	FieldGeneration = "generation"
	FieldOutcome    = "outcome"
	FieldDriver     = "driver"
	FieldKey        = "key"
)
