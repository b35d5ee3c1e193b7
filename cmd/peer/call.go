package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	"koma/internal/infrastructure/monitoring"
	rtc "koma/internal/infrastructure/webrtc"

	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagRoom        string
	flagProvider    string
	flagRole        string
	flagAutostart   bool
	flagAudioFile   string
	flagVideoFile   string
	flagScreenFile  string
	flagMetricsAddr string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Join a call room and negotiate a media session",
	Long: `Join a two-party call room. The initiator (alias consultant) offers,
the responder (alias client) answers.

Audio comes from an Ogg/Opus file (silence when none is given), video from an
IVF/VP8 file. While the call runs, stdin accepts:
  /start      place the call when --autostart is off (initiator only)
  /screen     send the screen file in the video slot
  /unshare    go back to the camera
  /restart    restart ICE (initiator only)
  /stats      print session statistics
  /quit       leave the call
Any other line is sent over the in-call text channel.

Examples:
  koma-peer call --provider "Dr Smith" --role consultant --autostart
  koma-peer call --room consult:dr-smith --role client --video cam.ivf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd.Context())
	},
}

func init() {
	f := callCmd.Flags()
	f.StringVar(&flagRoom, "room", "", "call room key")
	f.StringVar(&flagProvider, "provider", "", "provider label the room key is derived from")
	f.StringVar(&flagRole, "role", "responder", "initiator|consultant or responder|client")
	f.BoolVar(&flagAutostart, "autostart", false, "start negotiating as soon as the room is joined")
	f.StringVar(&flagAudioFile, "audio", "", "Ogg/Opus file for the audio slot")
	f.StringVar(&flagVideoFile, "video", "", "IVF/VP8 file for the video slot")
	f.StringVar(&flagScreenFile, "screen", "", "IVF/VP8 file used by /screen")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func callRoom() domain.RoomID {
	if flagRoom != "" {
		return domain.RoomID(flagRoom)
	}
	return domain.CallRoom(flagProvider)
}

func runCall(ctx context.Context) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(flagRole)
	if err != nil {
		return err
	}
	room := callRoom()
	log := env.logger.With("room", room, "role", role)

	var metrics ports.SessionMetrics
	if flagMetricsAddr != "" {
		metrics = monitoring.NewPrometheusCollector(nil)
		go serveMetrics(ctx, flagMetricsAddr, log)
	}

	api, err := rtc.NewAPI(env.cfg, env.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := env.connect(ctx)
	media := rtc.NewFileSource(flagAudioFile, flagVideoFile, flagScreenFile, log.Named("media"))

	session := rtc.NewSession(rtc.SessionConfig{
		Engine:    rtc.NewEngineConfig(env.cfg, env.self, room, role),
		Autostart: flagAutostart,
		RTC:       rtc.ICEConfiguration(env.cfg),
	}, api, client, media, metrics, log)

	session.OnStatus(func(status domain.SessionStatus, err error) {
		if err != nil {
			fmt.Printf("* %s: %v\n", status, err)
			return
		}
		fmt.Printf("* %s\n", status)
	})
	session.OnText(func(m rtc.TextMessage) {
		fmt.Printf("[%s] %s: %s\n", m.Sent.Local().Format("15:04"), m.From, m.Text)
	})

	errc := make(chan error, 1)
	go func() { errc <- session.Run(ctx) }()

	go readCallCommands(ctx, os.Stdin, session, media, cancel)

	fmt.Printf("joining %s as %s\n", room, role)
	return <-errc
}

// callControl is the part of a session the stdin commands drive.
type callControl interface {
	Start() error
	Restart() error
	ShareScreen(track webrtc.TrackLocal) error
	StopScreenShare() error
	SendText(text string) error
	Stats() rtc.SessionStats
}

type screenSource interface {
	CaptureScreen(ctx context.Context) (webrtc.TrackLocal, error)
}

func readCallCommands(ctx context.Context, in io.Reader, s callControl, media screenSource, quit context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch line {
		case "/quit":
			quit()
			return
		case "/start":
			err = s.Start()
		case "/screen":
			track, captureErr := media.CaptureScreen(ctx)
			if err = captureErr; err == nil {
				err = s.ShareScreen(track)
			}
			if err == nil {
				fmt.Printf("* sharing %s\n", track.ID())
			}
		case "/unshare":
			err = s.StopScreenShare()
		case "/restart":
			err = s.Restart()
		case "/stats":
			data, _ := json.MarshalIndent(s.Stats(), "", "  ")
			fmt.Println(string(data))
		default:
			err = s.SendText(line)
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warnw("metrics server stopped", "error", err)
	}
}
