package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// SyntheticSource produces silent audio and blank video frames. It exists so
// the session pipeline can run end to end without camera or microphone
// hardware.
type SyntheticSource struct {
	cancel context.CancelFunc
	once   sync.Once

	audioOff atomic.Bool
	videoOff atomic.Bool
}

func NewSynthetic() *SyntheticSource {
	return &SyntheticSource{}
}

// SetEnabled gates one kind of track. A disabled track stays negotiated but
// receives no samples.
func (s *SyntheticSource) SetEnabled(kind webrtc.RTPCodecType, enabled bool) {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		s.audioOff.Store(!enabled)
	case webrtc.RTPCodecTypeVideo:
		s.videoOff.Store(!enabled)
	}
}

func (s *SyntheticSource) Acquire() ([]webrtc.TrackLocal, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "session")
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "session")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.feed(ctx, audio, audioFrameInterval, silentOpusFrame(), &s.audioOff)
	go s.feed(ctx, video, videoFrameInterval, blankVP8Frame(), &s.videoOff)

	return []webrtc.TrackLocal{audio, video}, nil
}

func (s *SyntheticSource) feed(ctx context.Context, track *webrtc.TrackLocalStaticSample, interval time.Duration, frame []byte, off *atomic.Bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if off.Load() {
				continue
			}
			err := track.WriteSample(media.Sample{Data: frame, Duration: interval})
			if err != nil {
				log.Debug().Str("module", "media.synthetic").Err(err).Msg("write sample")
			}
		}
	}
}

func (s *SyntheticSource) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// silentOpusFrame is a minimal valid opus frame encoding silence.
func silentOpusFrame() []byte {
	return []byte{0xf8, 0xff, 0xfe}
}

// blankVP8Frame is an intra frame of flat color, enough for decoders to sync.
func blankVP8Frame() []byte {
	return []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
}

// DeniedSource always fails acquisition. Used to exercise the terminal
// media-denied path.
type DeniedSource struct{}

func (DeniedSource) Acquire() ([]webrtc.TrackLocal, error) { return nil, ErrDenied }
func (DeniedSource) Stop()                                 {}
