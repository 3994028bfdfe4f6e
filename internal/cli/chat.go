package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/orchestrator"
	"github.com/xaenox/analyst-bot/internal/session"
)

type chatOptions struct {
	sessionID string
	userID    string
	verbose   bool
}

// NewChatCmd creates the 'chat' command, a terminal conversation.
func NewChatCmd(opts *Options) *cobra.Command {
	var co chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the analyst in the terminal",
		Long: `Reads one utterance per line from stdin. Lines starting with / are
commands (/help lists them); /model <file> uploads a semantic model and
/quit ends the conversation.`,
		Example: `  analyst chat --memory
  analyst chat --session 7d6c... --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.close()
			return runChat(cmd.Context(), a, co, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&co.sessionID, "session", "", "Resume or create the session with this id")
	cmd.Flags().StringVar(&co.userID, "user", "terminal", "User id recorded on new sessions")
	cmd.Flags().BoolVarP(&co.verbose, "verbose", "v", false, "Print classification and capability diagnostics")

	return cmd
}

func runChat(ctx context.Context, a *app, co chatOptions, in io.Reader, out io.Writer) error {
	sess, err := chatSession(ctx, a, co)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s (turn %d). Type /help for commands, /quit to leave.\n", sess.ID, sess.LastTurn())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			command, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
			switch strings.ToLower(command) {
			case "quit", "exit":
				return nil
			case "model":
				if path := strings.TrimSpace(args); path != "" && !strings.EqualFold(path, "clear") {
					fmt.Fprintln(out, loadModelFile(ctx, a, sess, path))
					continue
				}
			}
			fmt.Fprintln(out, a.commands.Execute(ctx, sess, command, args))
			continue
		}

		reply, err := a.orchestrator.Handle(ctx, sess, line)
		if err != nil {
			a.logger.Error("Turn failed", zap.Error(err), zap.String("session_id", sess.ID))
		}
		fmt.Fprintln(out, reply.Text)
		if co.verbose {
			fmt.Fprintln(out, formatDiagnostics(reply.Diagnostics))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func chatSession(ctx context.Context, a *app, co chatOptions) (*session.Session, error) {
	wh, err := a.openWarehouse(ctx)
	if err != nil {
		a.logger.Warn("Warehouse unavailable, data questions will fail", zap.Error(err))
		wh = nil
	}

	var sess *session.Session
	if co.sessionID == "" {
		sess, err = a.sessions.Open(ctx, co.userID, wh)
	} else {
		sess, err = a.sessions.Resume(ctx, co.sessionID, wh)
		if errors.Is(err, session.ErrNotFound) {
			sess, err = a.sessions.OpenWithID(ctx, co.sessionID, co.userID, wh)
		}
	}
	if err != nil {
		if wh != nil {
			wh.Close()
		}
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return sess, nil
}

func loadModelFile(ctx context.Context, a *app, sess *session.Session, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Could not read %s: %v", path, err)
	}
	return a.commands.LoadModel(ctx, sess, data)
}

func formatDiagnostics(d orchestrator.Diagnostics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[turn %d] %s (%.2f, %s)", d.Turn, d.Classification.Category, d.Classification.Confidence, d.Classification.Source)
	if d.Uncertain {
		b.WriteString(" uncertain")
	}
	for _, inv := range d.Invocations {
		status := "ok"
		if !inv.Success {
			status = string(inv.ErrKind)
		}
		fmt.Fprintf(&b, "\n  %d. %s %s %s", inv.Seq, inv.Capability, status, inv.Latency.Round(time.Millisecond))
	}
	if d.Performance.Total > 0 {
		fmt.Fprintf(&b, "\n  total %s", d.Performance.Total.Round(time.Millisecond))
	}
	return b.String()
}
