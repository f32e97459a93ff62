package handlers

import "time"

const (
	RequestIDHeader = "X-Request-ID"

	// maxRequestBytes bounds a JSON request body or WebSocket frame
	maxRequestBytes = 16 << 10

	wsWriteTimeout = 5 * time.Second

	ErrInvalidJSON          = "Invalid JSON body"
	ErrChildNotFound        = "Child not found"
	ErrSessionNotFound      = "Session not found"
	ErrSummaryNotFound      = "Summary not generated yet"
	ErrSessionConflict      = "Session is not available for this child"
	ErrTooManyRequests      = "Too many requests"
	ErrServiceUnavailable   = "Service temporarily unavailable"
	ErrStreamingUnsupported = "Streaming unsupported"
	ErrInternalServerError  = "Internal server error"
)
