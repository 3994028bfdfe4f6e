package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xaenox/analyst-bot/internal/bot"
)

// NewTelegramCmd creates the 'telegram' command running the chat bot.
func NewTelegramCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Run the Telegram bot",
		Long:  `Polls Telegram for updates. The token comes from telegram.token or TELEGRAM_TOKEN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.Telegram.Token == "" {
				return errors.New("telegram token not configured")
			}

			b, err := bot.New(a.cfg.Telegram.Token, a.orchestrator, a.sessions, a.commands, a.openWarehouse, a.logger)
			if err != nil {
				return err
			}
			return b.Start(cmd.Context())
		},
	}
}
