package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"koma/internal/core/domain"
	"koma/internal/infrastructure/transport"
	"koma/pkg/config"
	"koma/pkg/logger"
	"koma/pkg/validation"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagConfig    string
	flagSignalURL string
	flagID        string
	flagLogLevel  string
	flagRelay     bool
	flagTransport string
)

var rootCmd = &cobra.Command{
	Use:   "koma-peer",
	Short: "Consultation call and support chat client",
	Long: `koma-peer joins a koma signaling hub as one participant. It can run a
two-party call with file-backed media, take part in support chat threads and
mint invite links through the server's invite API.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "configs/config.yaml", "configuration file")
	pf.StringVar(&flagSignalURL, "signal", "", "signaling hub url (overrides client.signal_url)")
	pf.StringVar(&flagID, "id", "", "participant id (random when empty)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level (overrides logging.level)")
	pf.BoolVar(&flagRelay, "relay", false, "force TURN relay candidates")
	pf.StringVar(&flagTransport, "transport", "", "preferred TURN transport: tcp, udp or both")

	rootCmd.AddCommand(callCmd, chatCmd, inviteCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// environment holds what every subcommand needs.
type environment struct {
	cfg    *config.Config
	self   domain.ParticipantID
	logger *zap.SugaredLogger
}

func loadEnvironment() (*environment, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagSignalURL != "" {
		cfg.Client.SignalURL = flagSignalURL
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagRelay {
		cfg.WebRTC.ForceRelay = true
	}
	if flagTransport != "" {
		cfg.WebRTC.Transport = flagTransport
	}
	if err := validation.ValidateURL(cfg.Client.SignalURL); err != nil {
		return nil, fmt.Errorf("signal url: %w", err)
	}

	id := flagID
	if id == "" {
		id = uuid.New().String()
	} else if err := validation.ValidateParticipantID(id); err != nil {
		return nil, err
	}

	log := logger.NewDevelopment(cfg.Logging.Level).Sugar().With("participant_id", id)
	return &environment{cfg: cfg, self: domain.ParticipantID(id), logger: log}, nil
}

// connect starts a reconnecting hub client that lives until ctx is done.
func (e *environment) connect(ctx context.Context) *transport.Client {
	client := transport.NewClient(transport.NewClientConfig(e.cfg, e.self), e.logger.Named("signal"))
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Errorw("signaling client stopped", "error", err)
		}
	}()
	return client
}
