package main

import (
	"encoding/json"
	"fmt"
	"os"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	"koma/internal/core/services"
	"koma/internal/infrastructure/transport"

	"github.com/spf13/cobra"
)

var (
	flagInviteServer    string
	flagInviteRole      string
	flagInviteAutostart bool
	flagInviteOffline   bool
	flagInviteDecode    string
)

var inviteCmd = &cobra.Command{
	Use:   "invite [provider]",
	Short: "Print a join link for a provider's call room",
	Long: `Ask the signaling server for a signed join link. With --offline the link
is signed locally with auth.invite_secret from the configuration.

Examples:
  koma-peer invite "Dr Smith" --autostart
  koma-peer invite --decode eyJhbGciOi...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}

		if flagInviteOffline {
			svc := services.NewInviteService(env.cfg.Auth.InviteSecret, env.cfg.Auth.InviteTTL, env.cfg.Auth.InviteBaseURL)
			return printInvite(runOffline(svc, args))
		}

		server := flagInviteServer
		if server == "" {
			server = env.cfg.Client.SignalURL
		}
		client, err := transport.NewInviteClient(server)
		if err != nil {
			return err
		}

		if flagInviteDecode != "" {
			return printInvite(client.Decode(cmd.Context(), flagInviteDecode))
		}
		if len(args) == 0 {
			return fmt.Errorf("provider label required")
		}
		role, err := domain.ParseRole(flagInviteRole)
		if err != nil {
			return err
		}
		return printInvite(client.Create(cmd.Context(), args[0], role, flagInviteAutostart))
	},
}

func init() {
	f := inviteCmd.Flags()
	f.StringVar(&flagInviteServer, "server", "", "server base url (defaults to the signal url origin)")
	f.StringVar(&flagInviteRole, "role", "client", "role encoded in the link")
	f.BoolVar(&flagInviteAutostart, "autostart", false, "start the call as soon as the link is opened")
	f.BoolVar(&flagInviteOffline, "offline", false, "sign the link locally")
	f.StringVar(&flagInviteDecode, "decode", "", "decode a token instead of creating one")
}

func runOffline(svc ports.InviteService, args []string) (domain.Invite, error) {
	if flagInviteDecode != "" {
		return svc.Decode(flagInviteDecode)
	}
	if len(args) == 0 {
		return domain.Invite{}, fmt.Errorf("provider label required")
	}
	role, err := domain.ParseRole(flagInviteRole)
	if err != nil {
		return domain.Invite{}, err
	}
	return svc.Create(args[0], role, flagInviteAutostart)
}

func printInvite(inv domain.Invite, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(inv)
}
