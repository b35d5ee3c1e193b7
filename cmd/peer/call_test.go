package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	rtc "koma/internal/infrastructure/webrtc"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCall struct {
	calls []string
	texts []string
	track webrtc.TrackLocal
}

func (f *fakeCall) Start() error {
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeCall) Restart() error {
	f.calls = append(f.calls, "restart")
	return nil
}

func (f *fakeCall) ShareScreen(track webrtc.TrackLocal) error {
	f.calls = append(f.calls, "share")
	f.track = track
	return nil
}

func (f *fakeCall) StopScreenShare() error {
	f.calls = append(f.calls, "unshare")
	return nil
}

func (f *fakeCall) SendText(text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeCall) Stats() rtc.SessionStats {
	f.calls = append(f.calls, "stats")
	return rtc.SessionStats{}
}

type fakeScreen struct {
	track webrtc.TrackLocal
	err   error
}

func (f fakeScreen) CaptureScreen(context.Context) (webrtc.TrackLocal, error) {
	return f.track, f.err
}

func TestReadCallCommands(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "koma")
	require.NoError(t, err)

	call := &fakeCall{}
	in := strings.NewReader("/start\n\n/screen\n/unshare\n/restart\n/stats\nhello there\n/quit\nafter quit\n")

	quitted := false
	readCallCommands(context.Background(), in, call, fakeScreen{track: track}, func() { quitted = true })

	assert.True(t, quitted)
	assert.Equal(t, []string{"start", "share", "unshare", "restart", "stats"}, call.calls)
	assert.Equal(t, []string{"hello there"}, call.texts, "lines after /quit are not read")
	assert.Same(t, track, call.track)
}

func TestReadCallCommands_ScreenUnavailable(t *testing.T) {
	call := &fakeCall{}
	in := strings.NewReader("/screen\n")

	readCallCommands(context.Background(), in, call, fakeScreen{err: errors.New("no screen file")}, func() {})

	assert.Empty(t, call.calls, "nothing is shared without a track")
}

func TestCallHelpListsStart(t *testing.T) {
	assert.Contains(t, callCmd.Long, "/start")
}
