// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Processing constants
const (
	// DefaultConcurrency is the number of employees whose reference images
	// are processed in parallel while building the gallery
	DefaultConcurrency = 4

	// ReferenceFetchTimeout bounds one reference image download
	ReferenceFetchTimeout = 30 * time.Second
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for session event subscribers.
	// Overlays arrive every tick, so a slow subscriber loses events instead
	// of stalling the loop.
	EventChannelBuffer = 64
)

// Pagination constants
const (
	// SessionLogLimit is the number of check-ins a session keeps in memory
	SessionLogLimit = 500
)
