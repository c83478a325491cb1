// Package media implements core.MediaSource on pion local tracks.
package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

// Source hands out local audio/video tracks. Device availability is fixed
// at construction; an unavailable device surfaces core.ErrDeviceUnavailable
// before the session writes anything to the store.
type Source struct {
	hasAudio bool
	hasVideo bool
}

var _ core.MediaSource = (*Source)(nil)

func NewSource(hasAudio, hasVideo bool) *Source {
	return &Source{hasAudio: hasAudio, hasVideo: hasVideo}
}

func (s *Source) Acquire(_ context.Context, kind domain.CallKind) (core.MediaStream, error) {
	if !s.hasAudio {
		return nil, core.ErrDeviceUnavailable
	}
	if kind == domain.KindVideo && !s.hasVideo {
		return nil, core.ErrDeviceUnavailable
	}

	streamID := uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, core.ErrDeviceUnavailable
	}
	tracks := []webrtc.TrackLocal{audio}

	if kind == domain.KindVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, core.ErrDeviceUnavailable
		}
		tracks = append(tracks, video)
	}

	log.Info().Str("module", "media").Str("kind", string(kind)).Str("stream_id", streamID).Msg("acquired local tracks")
	return &Stream{id: streamID, tracks: tracks}, nil
}

// Stream is one acquired set of local tracks.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal
	once   sync.Once
}

func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *Stream) Close() {
	s.once.Do(func() {
		log.Info().Str("module", "media").Str("stream_id", s.id).Msg("released local tracks")
	})
}
