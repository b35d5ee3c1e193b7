package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"koma/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const (
	opusFrame     = 20 * time.Millisecond
	opusClockRate = 48000
	streamID      = "koma"
)

// opusSilence is a single 20ms opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FileSource plays media files into local tracks. Audio falls back to
// silence when no file is given; video is only captured when VideoPath is
// set. Files are looped until the capture context ends.
type FileSource struct {
	AudioPath  string // ogg/opus
	VideoPath  string // ivf/vp8
	ScreenPath string // ivf/vp8, shared on demand

	logger *zap.SugaredLogger
}

var _ ports.MediaSource = (*FileSource)(nil)

func NewFileSource(audio, video, screen string, logger *zap.SugaredLogger) *FileSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileSource{
		AudioPath:  audio,
		VideoPath:  video,
		ScreenPath: screen,
		logger:     logger,
	}
}

func (s *FileSource) CaptureAudio(ctx context.Context) (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}

	if s.AudioPath == "" {
		go s.playSilence(ctx, track)
		return track, nil
	}
	if err := checkReadable(s.AudioPath); err != nil {
		return nil, err
	}
	go s.loop(ctx, s.AudioPath, func(r io.Reader) (int, error) { return playOgg(ctx, r, track) })
	return track, nil
}

func (s *FileSource) CaptureVideo(ctx context.Context) (webrtc.TrackLocal, error) {
	if s.VideoPath == "" {
		return nil, nil
	}
	return s.captureIVF(ctx, s.VideoPath, "video")
}

// CaptureScreen returns a track playing ScreenPath, for use with a session's
// screen share.
func (s *FileSource) CaptureScreen(ctx context.Context) (webrtc.TrackLocal, error) {
	if s.ScreenPath == "" {
		return nil, errors.New("no screen source configured")
	}
	return s.captureIVF(ctx, s.ScreenPath, "screen")
}

func (s *FileSource) captureIVF(ctx context.Context, path, id string) (webrtc.TrackLocal, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		id, streamID,
	)
	if err != nil {
		return nil, err
	}
	go s.loop(ctx, path, func(r io.Reader) (int, error) { return playIVF(ctx, r, track) })
	return track, nil
}

// loop replays path until ctx is done, the file turns unreadable or a pass
// plays no frame at all.
func (s *FileSource) loop(ctx context.Context, path string, play func(io.Reader) (int, error)) {
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			s.logger.Warnw("media file unavailable", "path", path, "error", err)
			return
		}
		frames, err := play(f)
		f.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.logger.Warnw("media playback stopped", "path", path, "error", err)
			return
		}
		if frames == 0 {
			s.logger.Warnw("media file has no frames", "path", path)
			return
		}
	}
}

func (s *FileSource) playSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				s.logger.Debugw("failed to write silence", "error", err)
				return
			}
		}
	}
}

// playOgg writes the pages of r to track and returns how many it wrote.
func playOgg(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) (int, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return 0, fmt.Errorf("invalid ogg stream: %w", err)
	}

	var lastGranule uint64
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for n := 0; ; n++ {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return n, err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples)/opusClockRate*1000) * time.Millisecond

		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-ticker.C:
		}
		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return n, err
		}
	}
}

// playIVF writes the frames of r to track and returns how many it wrote.
func playIVF(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) (int, error) {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return 0, fmt.Errorf("invalid ivf stream: %w", err)
	}
	if header.FourCC != "VP80" {
		return 0, fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}

	interval := time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000) * time.Millisecond
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; ; n++ {
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return n, err
		}

		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-ticker.C:
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			return n, err
		}
	}
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
