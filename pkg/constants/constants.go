// Package constants defines application-wide constants for timeouts, limits, and channel naming.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Signaling channel naming. Each logical conversation topic fans out to a
// fixed set of physical channels; receivers treat notify + global as one
// stream to tolerate naming drift across client versions.
const (
	// ChannelOfferNotifyPrefix is the primary offer/answer/candidate channel
	ChannelOfferNotifyPrefix = "call-offer-notify:"

	// ChannelGlobalPrefix is the legacy secondary signaling channel
	ChannelGlobalPrefix = "call-global:"

	// ChannelRejectNotifyPrefix carries best-effort reject signals
	ChannelRejectNotifyPrefix = "call-reject-notify:"

	// ChannelPresencePrefix scopes presence beacons per conversation
	ChannelPresencePrefix = "presence:"

	// SignalEventName is the broadcast event name carried in every envelope
	SignalEventName = "call-signal"
)

// Subscription retry constants
const (
	// SubscribeMaxAttempts caps transport subscription retries
	SubscribeMaxAttempts = 4

	// SubscribeBaseDelay is the initial retry delay, doubled per attempt
	SubscribeBaseDelay = 500 * time.Millisecond

	// SubscribeMaxDelay is the retry delay ceiling
	SubscribeMaxDelay = 4 * time.Second

	// SubscribeConfirmTimeout bounds one subscription confirmation wait
	SubscribeConfirmTimeout = 5 * time.Second
)

// Call-related constants
const (
	// CallSetupTimeout is the no-answer timeout for an outgoing call
	CallSetupTimeout = 45 * time.Second

	// RejectGracePeriod keeps the reject-notify channel open after a
	// fire-and-forget reject so the publish can drain
	RejectGracePeriod = 2 * time.Second

	// MaxCallDuration is the maximum allowed call duration (24 hours)
	MaxCallDuration = 24 * time.Hour

	// CallStatusRinging indicates a call is waiting to be answered
	CallStatusRinging = "ringing"

	// CallStatusActive indicates a call is in progress
	CallStatusActive = "active"

	// CallStatusEnded indicates a call has ended
	CallStatusEnded = "ended"

	// CallStatusRejected indicates the callee declined
	CallStatusRejected = "rejected"

	// CallStatusMissed indicates the call rang out unanswered
	CallStatusMissed = "missed"

	// CallTypeAudio indicates an audio-only call
	CallTypeAudio = "audio"

	// CallTypeVideo indicates a video call
	CallTypeVideo = "video"
)

// Presence constants
const (
	// PresenceTTL is how long a tracked member stays in the set without refresh
	PresenceTTL = 5 * time.Minute

	// PresenceSyncInterval is the cadence of full-state sync beacons
	PresenceSyncInterval = 30 * time.Second
)

// Push notification constants
const (
	// PushTokenExpiry is how long an unrefreshed device token is kept
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Fallback detection constants
const (
	// RingingPollInterval is the cadence of the persisted-record fallback poll
	RingingPollInterval = 2 * time.Second

	// RingingLookback bounds how old a ringing record may be and still ring
	RingingLookback = 60 * time.Second
)

// Recording constants
const (
	// RecorderChunkDuration is the capture time slice
	RecorderChunkDuration = 1 * time.Second

	// RecorderSampleRate is the PCM sample rate of the mixed output
	RecorderSampleRate = 48000
)

// Diagnostics constants
const (
	// CallLogCapacity is the ring-buffer size of the diagnostic call log
	CallLogCapacity = 500
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)
