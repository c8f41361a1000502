package signaling

import (
	"github.com/google/uuid"

	"telecare-backend/internal/domain"
	"telecare-backend/pkg/constants"
)

// Naming maps a conversation id onto its physical channel names. The dual
// notify/global pair exists because channel naming drifted across client
// versions: senders publish to every signal channel and receivers subscribe
// to all of them, treating the set as one logical stream. Future schema
// changes add a prefix to ExtraNotifyPrefixes instead of forking listeners.
type Naming struct {
	OfferNotifyPrefix  string
	GlobalPrefix       string
	RejectNotifyPrefix string
	PresencePrefix     string

	// ExtraNotifyPrefixes carries additional notify channel generations.
	ExtraNotifyPrefixes []string
}

// DefaultNaming returns the channel naming currently deployed.
func DefaultNaming() Naming {
	return Naming{
		OfferNotifyPrefix:  constants.ChannelOfferNotifyPrefix,
		GlobalPrefix:       constants.ChannelGlobalPrefix,
		RejectNotifyPrefix: constants.ChannelRejectNotifyPrefix,
		PresencePrefix:     constants.ChannelPresencePrefix,
	}
}

// NotifyChannels returns every notify-generation channel for a conversation.
func (n Naming) NotifyChannels(conversationID uuid.UUID) []string {
	out := []string{n.OfferNotifyPrefix + conversationID.String()}
	for _, prefix := range n.ExtraNotifyPrefixes {
		out = append(out, prefix+conversationID.String())
	}
	return out
}

// GlobalChannel returns the legacy signaling channel for a conversation.
func (n Naming) GlobalChannel(conversationID uuid.UUID) string {
	return n.GlobalPrefix + conversationID.String()
}

// RejectChannel returns the dedicated reject-notify channel.
func (n Naming) RejectChannel(conversationID uuid.UUID) string {
	return n.RejectNotifyPrefix + conversationID.String()
}

// PresenceChannel returns the presence beacon channel.
func (n Naming) PresenceChannel(conversationID uuid.UUID) string {
	return n.PresencePrefix + conversationID.String()
}

// ReceiveChannels returns every channel a receiver must join to see the whole
// logical signal stream for a conversation.
func (n Naming) ReceiveChannels(conversationID uuid.UUID) []string {
	out := n.NotifyChannels(conversationID)
	out = append(out, n.GlobalChannel(conversationID), n.RejectChannel(conversationID))
	return out
}

// SendChannels returns the channels an outbound signal of the given type is
// published to. Rejects go to the dedicated reject channel; everything else
// fans out across all notify generations plus the legacy channel.
func (n Naming) SendChannels(signalType string, conversationID uuid.UUID) []string {
	if signalType == domain.SignalTypeCallReject {
		return []string{n.RejectChannel(conversationID), n.GlobalChannel(conversationID)}
	}
	out := n.NotifyChannels(conversationID)
	out = append(out, n.GlobalChannel(conversationID))
	return out
}
