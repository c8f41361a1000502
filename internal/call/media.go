package call

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"telecare-backend/pkg/constants"
)

// ErrMediaDenied is returned when the local capture devices cannot be
// opened, whether by permission or by absence.
var ErrMediaDenied = errors.New("media device access denied")

// Acquirer opens local capture tracks for a call. Release is safe to call
// any number of times, including when Acquire never ran or failed.
type Acquirer interface {
	Acquire(ctx context.Context, callType string) ([]webrtc.TrackLocal, error)
	Release()
}

// MediaPolicy selects when an incoming call acquires local media.
type MediaPolicy string

const (
	// MediaPolicyLazy defers acquisition until the call is accepted.
	MediaPolicyLazy MediaPolicy = "lazy"
	// MediaPolicyEager acquires while still ringing so accept is instant.
	MediaPolicyEager MediaPolicy = "eager"
)

// sampleAcquirer builds static sample tracks fed by an external capture
// pipeline. It is the production acquirer for the headless agent.
type sampleAcquirer struct {
	tracks []webrtc.TrackLocal
}

// NewSampleAcquirer creates the default track acquirer.
func NewSampleAcquirer() Acquirer {
	return &sampleAcquirer{}
}

func (a *sampleAcquirer) Acquire(_ context.Context, callType string) ([]webrtc.TrackLocal, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "telecare",
	)
	if err != nil {
		return nil, ErrMediaDenied
	}
	tracks := []webrtc.TrackLocal{audio}

	if callType == constants.CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "telecare",
		)
		if err != nil {
			return nil, ErrMediaDenied
		}
		tracks = append(tracks, video)
	}

	a.tracks = tracks
	return tracks, nil
}

func (a *sampleAcquirer) Release() {
	a.tracks = nil
}
