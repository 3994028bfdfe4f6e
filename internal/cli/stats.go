package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xaenox/analyst-bot/internal/bot"
)

// NewStatsCmd creates the 'stats' command printing a stored session's statistics.
func NewStatsCmd(opts *Options) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Show statistics for a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.close()

			info, err := a.store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load session %s: %w", args[0], err)
			}
			stats, err := a.store.SessionStats(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintf(out, "Session %s (user %s, created %s)\n", info.ID, info.UserID, info.CreatedAt.Format("2006-01-02 15:04"))
			fmt.Fprintln(out, bot.FormatStats(stats, info.Toggles, info.SemanticModel != ""))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}
