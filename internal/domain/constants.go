package domain

import "time"

// Compiled defaults. Timeouts and limits can be overridden via configuration.
const (
	// Timeline
	TickInterval = 1 * time.Second // Countdown streams republish once per second

	// Content limits
	MaxNoteSize       = 4 * 1024 // 4 KB max note body
	MaxBucketItemSize = 1024     // 1 KB max bucket item text
	PINLength         = 4

	// PIN gate
	DefaultPIN             = "0720"
	MaxPINAttempts         = 5
	MaxGlobalPINAttempts   = 30 // Across all clients, same window
	PINAttemptWindow       = 15 * time.Minute
	SessionTokenLifetime   = 1 * time.Hour
	SnapshotResyncInterval = 30 * time.Second // Fallback resync when no change notification arrives

	// Timeout contracts
	DynamoDBTimeout = 5 * time.Second
	RedisTimeout    = 2 * time.Second

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second // Max time from signal to exit
	ShutdownDrainDelay      = 2 * time.Second  // Lets the load balancer stop routing before draining
	ShutdownHTTPTimeout     = 20 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second

	// WebSocket streams
	HeartbeatInterval = 30 * time.Second
	WSWriteTimeout    = 10 * time.Second
)

// Collection and document names in the document database.
const (
	CollectionNotes    = "sweetNotes"
	CollectionBucket   = "bucketList"
	CollectionSecurity = "security"

	SecuritySettingsDoc = "settings"
)

// DateLayout renders document timestamps the way the boards display them.
const DateLayout = "January 2, 2006"

// Author identifies who wrote a note.
type Author string

const (
	AuthorKoko Author = "koko"
	AuthorBabe Author = "babe"
)

// IsValidAuthor checks if an author is one of the two known writers.
func IsValidAuthor(a Author) bool {
	return a == AuthorKoko || a == AuthorBabe
}
