// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// UnknownLabel is the reserved match label for faces that resemble no enrolled identity.
const UnknownLabel = "unknown"

// Face matching constants
const (
	// DefaultDistanceThreshold is the default maximum descriptor distance for a match.
	// Lower values = stricter matching
	DefaultDistanceThreshold = 0.5
)

// Recognition constants
const (
	// DefaultConfirmVotes is the number of matching frames required to confirm an identity
	DefaultConfirmVotes = 30

	// DefaultUnknownVotes is the number of unmatched frames required to declare the face unknown
	DefaultUnknownVotes = 50

	// DefaultSampleInterval is the cadence of the capture and recognition polling loops
	DefaultSampleInterval = 100 * time.Millisecond

	// DefaultRecognitionTimeout bounds a recognition session that never reaches a verdict
	DefaultRecognitionTimeout = 60 * time.Second
)

// Capture constants
const (
	// DefaultCaptureSettle is the pause after a prompt before polling starts
	DefaultCaptureSettle = time.Second

	// DefaultCaptureCooldown is the pause after a captured frame, so the same held
	// expression is not captured twice
	DefaultCaptureCooldown = 1500 * time.Millisecond

	// DefaultCaptureTimeout bounds the wait for a single expression
	DefaultCaptureTimeout = 30 * time.Second

	// DefaultMediaReadyTimeout bounds the wait for a media source to report its dimensions
	DefaultMediaReadyTimeout = 10 * time.Second
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for descriptor extraction
	WorkerPoolSize = 4

	// MaxImageSize is the maximum dimension (width or height) sent to vision models
	MaxImageSize = 800

	// JPEGQuality is the quality used when frames are re-encoded
	JPEGQuality = 90
)

// Enrollment constants
const (
	// MaxNameLength is the maximum identity name length in bytes
	MaxNameLength = 255

	// DefaultMaxSamples is the maximum number of samples accepted in a single enrollment
	DefaultMaxSamples = 10
)
