package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	"koma/internal/core/services"

	"github.com/spf13/cobra"
)

var (
	flagThread  string
	flagUser    string
	flagHandler string
	flagTopic   string
	flagConsult bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Take part in a support chat thread",
	Long: `Join the support rooms and exchange messages in one thread. The thread is
given directly or derived from user, handler and topic.

stdin lines are sent as messages; "/read <mid>" marks a received message as
read and "/history" prints the thread.

Examples:
  koma-peer chat --user anna --handler doc@clinic.org --topic billing
  koma-peer chat --consultant --handler doc@clinic.org --thread anna__doc@clinic.org__billing`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&flagThread, "thread", "", "thread id")
	f.StringVar(&flagUser, "user", "", "user part of a derived thread id")
	f.StringVar(&flagHandler, "handler", "", "handler (consultant) of the thread")
	f.StringVar(&flagTopic, "topic", "", "topic part of a derived thread id")
	f.BoolVar(&flagConsult, "consultant", false, "also join the handler's own support room")
}

func runChat(ctx context.Context) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	thread := domain.ThreadID(flagThread)
	if thread == "" {
		thread = domain.DeriveThreadID(flagUser, flagHandler, flagTopic)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := env.connect(ctx)
	chat := services.NewChatService(client, env.logger.Named("chat"))
	chat.OnUpdate(func(m domain.ChatMessage) {
		printMessage(m)
	})

	handler := ""
	if flagConsult {
		handler = flagHandler
	}
	if err := chat.JoinSupport(ctx, handler); err != nil {
		return err
	}
	if err := chat.JoinThread(ctx, thread); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- chat.Run(ctx) }()

	fmt.Printf("thread %s\n", thread)
	go readChatCommands(ctx, chat, thread, cancel)

	if err := <-errc; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func readChatCommands(ctx context.Context, chat ports.ChatService, thread domain.ThreadID, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			quit()
			return
		case line == "/history":
			for _, m := range chat.History(thread) {
				printMessage(m)
			}
		case strings.HasPrefix(line, "/read "):
			mid := domain.MessageID(strings.TrimSpace(strings.TrimPrefix(line, "/read ")))
			if err := chat.MarkRead(ctx, thread, mid); err != nil {
				fmt.Printf("! %v\n", err)
			}
		default:
			if _, err := chat.Send(ctx, thread, line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

func printMessage(m domain.ChatMessage) {
	mark := " "
	switch {
	case m.Read:
		mark = "✓✓"
	case m.Delivered:
		mark = "✓"
	}
	fmt.Printf("[%s] %s %s: %s (%s)\n", m.SentAt.Local().Format("15:04"), mark, m.From, m.Text, m.ID)
}
