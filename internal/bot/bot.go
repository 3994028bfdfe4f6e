// Package bot is the Telegram frontend. Every chat maps to one analyst
// session whose history survives restarts.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/orchestrator"
	"github.com/xaenox/analyst-bot/internal/session"
	"github.com/xaenox/analyst-bot/internal/warehouse"
)

const (
	// Telegram rejects longer messages.
	maxMessageLength = 4096
	maxModelFileSize = 1 << 20
)

type Bot struct {
	api           *tgbotapi.BotAPI
	orchestrator  *orchestrator.Orchestrator
	sessions      *session.Manager
	commands      *Commander
	openWarehouse warehouse.Opener
	httpClient    *http.Client
	logger        *zap.Logger

	// serializes first contact so one chat never opens two sessions
	openMu sync.Mutex
}

func New(token string, orch *orchestrator.Orchestrator, sessions *session.Manager, commands *Commander, open warehouse.Opener, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:           api,
		orchestrator:  orch,
		sessions:      sessions,
		commands:      commands,
		openWarehouse: open,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}, nil
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	sess, err := b.sessionFor(ctx, message)
	if err != nil {
		b.logger.Error("Failed to open session",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a session for this chat. Please try again later.")
		return
	}

	if message.IsCommand() {
		b.sendCommandReply(message.Chat.ID, b.commands.Execute(ctx, sess, message.Command(), message.CommandArguments()))
		return
	}

	if message.Document != nil {
		b.handleDocument(ctx, sess, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	b.sendTyping(message.Chat.ID)
	reply, err := b.orchestrator.Handle(ctx, sess, content)
	if err != nil {
		b.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.String("session_id", sess.ID),
			zap.Int64("chat_id", message.Chat.ID))
	}
	for _, part := range splitMessage(reply.Text, maxMessageLength) {
		b.sendMessage(message.Chat.ID, part)
	}
}

// handleDocument accepts a YAML semantic model upload.
func (b *Bot) handleDocument(ctx context.Context, sess *session.Session, message *tgbotapi.Message) {
	doc := message.Document
	if !isModelFile(doc.FileName) {
		b.sendMessage(message.Chat.ID, "Please send the semantic model as a .yaml or .yml file.")
		return
	}
	if doc.FileSize > maxModelFileSize {
		b.sendMessage(message.Chat.ID, "That file is too large for a semantic model.")
		return
	}

	data, err := b.download(ctx, doc.FileID)
	if err != nil {
		b.logger.Error("Failed to download document",
			zap.Error(err),
			zap.String("file_name", doc.FileName),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't download that file.")
		return
	}
	b.sendMessage(message.Chat.ID, b.commands.LoadModel(ctx, sess, data))
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxModelFileSize))
}

// sessionFor resumes the chat's session or opens it on first contact. The
// warehouse is optional; without it data questions end in an apology.
func (b *Bot) sessionFor(ctx context.Context, message *tgbotapi.Message) (*session.Session, error) {
	b.openMu.Lock()
	defer b.openMu.Unlock()

	id := ChatSessionID(message.Chat.ID)
	if sess, err := b.sessions.Get(id); err == nil {
		return sess, nil
	}

	wh, err := b.openWarehouse(ctx)
	if err != nil {
		b.logger.Warn("Warehouse unavailable for chat",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		wh = nil
	}

	sess, err := b.sessions.Resume(ctx, id, wh)
	if errors.Is(err, session.ErrNotFound) {
		userID := fmt.Sprintf("telegram:%d", message.Chat.ID)
		if message.From != nil {
			userID = fmt.Sprintf("telegram:%d", message.From.ID)
		}
		sess, err = b.sessions.OpenWithID(ctx, id, userID, wh)
	}
	if err != nil && wh != nil {
		wh.Close()
	}
	return sess, err
}

// ChatSessionID derives a stable session id from a chat id.
func ChatSessionID(chatID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("telegram:%d", chatID))).String()
}

func isModelFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// splitMessage cuts text into chunks of at most limit runes, preferring line
// boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// escapeMarkdown escapes special characters for MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// formatCommandReply bolds the first line of a command reply.
func formatCommandReply(text string) string {
	head, rest, found := strings.Cut(text, "\n")
	formatted := "*" + escapeMarkdown(head) + "*"
	if found {
		formatted += "\n" + escapeMarkdown(rest)
	}
	return formatted
}

func (b *Bot) sendCommandReply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, formatCommandReply(text))
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send command reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send typing action", zap.Error(err))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
