package log

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldService = "service"

	// Chat
	FieldRoomID = "room_id"
	FieldConnID = "conn_id"
	FieldUser   = "user"
	FieldAction = "action"

	// Payments
	FieldTxHash = "tx_hash"
	FieldWallet = "wallet"
)
