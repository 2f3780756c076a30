package websocket

import "time"

// Connection configuration
const (
	writeWait       = 10 * time.Second
	maxMessageSize  = 1 << 20
	teardownTimeout = 3 * time.Second

	// Query parameter a client may use to choose its session id
	ConnectionIDParam = "connection_id"
)

// Status messages sent to the browser
const (
	StatusConnected     = "WebSocket connected successfully"
	StatusCaptureStart  = "Audio capture started"
	StatusCaptureStop   = "Audio capture stopped"
	StatusTestStarted   = "Test recognition started"
	unknownCommandError = "Unknown command: "
)
