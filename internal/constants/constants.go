// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultTolerance is the maximum distance for two encodings to be the same person.
	// Used when MATCH_TOLERANCE is unset or not positive.
	DefaultTolerance = 0.5

	// LookAlikeLimit caps how many similar enrolled students are reported at registration
	LookAlikeLimit = 3

	// DuplicateIoU is the minimum Intersection over Union for two detections
	// to be treated as the same face
	DuplicateIoU = 0.6
)

// Processing constants
const (
	// ImportWorkers is the default number of photos enrolled in parallel by students import
	ImportWorkers = 4
)

// Handler constants
const (
	// MaxUploadSize bounds photo uploads and captured frames
	MaxUploadSize = 20 << 20

	// StatsCacheTTL is how long dashboard counts are served from cache
	StatsCacheTTL = time.Minute

	// RequestTimeout bounds a single API request, detection included
	RequestTimeout = 2 * time.Minute
)
