// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum multipart upload size in bytes (32MB)
	MaxUploadSize = 32 << 20

	// MaxFrameSize is the maximum size of a single pushed video frame (8MB)
	MaxFrameSize = 8 << 20

	// PushFrameBuffer is how many pushed frames a recognition session queues
	PushFrameBuffer = 16
)

// Session constants
const (
	// SessionRetention is how long finished recognition sessions stay queryable
	SessionRetention = 10 * time.Minute
)
