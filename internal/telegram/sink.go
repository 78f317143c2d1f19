// Package telegram mirrors notices to a Telegram chat and answers a few
// read-only commands about cases from that chat.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/transcript"
	"github.com/user/casedesk/internal/types"
)

const maxTelegramMessage = 4096

// Sink sends notices to one chat.
type Sink struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	api    types.CaseAPI
	tokens types.TokenSource
	viewer transcript.Viewer
}

// New creates a sink talking to the public Bot API.
func New(token string, chatID int64) (*Sink, error) {
	return NewWithClient(token, tgbotapi.APIEndpoint, http.DefaultClient, chatID)
}

// NewWithClient creates a sink against a custom Bot API endpoint, a
// format string taking the token and the method name.
func NewWithClient(token, endpoint string, client *http.Client, chatID int64) (*Sink, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Sink{bot: bot, chatID: chatID}, nil
}

// EnableCommands lets the chat ask for case transcripts.
func (s *Sink) EnableCommands(api types.CaseAPI, tokens types.TokenSource, viewer transcript.Viewer) {
	s.api = api
	s.tokens = tokens
	s.viewer = viewer
}

// Handle is a delivery.Handler.
func (s *Sink) Handle(n delivery.Notice) error {
	return s.send(s.chatID, format(n))
}

func format(n delivery.Notice) string {
	var b strings.Builder
	switch n.Level {
	case delivery.LevelError:
		b.WriteString("⚠️ ")
	case delivery.LevelWarn:
		b.WriteString("❕ ")
	}
	if n.Case != "" {
		fmt.Fprintf(&b, "*%s %s* ", n.Kind, n.Case)
	}
	b.WriteString(n.Text)
	return b.String()
}

// Start long-polls for commands until ctx is done.
func (s *Sink) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := s.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			s.handleCommand(ctx, update.Message)
		case <-ctx.Done():
			s.bot.StopReceivingUpdates()
			return
		}
	}
}

func (s *Sink) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if chatID != s.chatID {
		slog.Warn("ignoring command from unknown chat", "chat_id", chatID)
		return
	}

	switch msg.Command() {
	case "start":
		s.reply(chatID, "Case notifications are delivered to this chat. Use /case <request|grievance> <id> to read a thread.")

	case "case":
		args := strings.Fields(msg.CommandArguments())
		if len(args) != 2 || !types.CaseKind(args[0]).Valid() {
			s.reply(chatID, "Usage: /case <request|grievance> <id>")
			return
		}
		text, err := s.caseSummary(ctx, types.CaseKind(args[0]), types.CaseID(args[1]))
		if err != nil {
			slog.Warn("telegram case lookup failed", "kind", args[0], "case", args[1], "error", err)
			s.reply(chatID, "Could not load that case.")
			return
		}
		s.reply(chatID, text)

	default:
		s.reply(chatID, "Unknown command. Available: /start, /case")
	}
}

func (s *Sink) caseSummary(ctx context.Context, kind types.CaseKind, id types.CaseID) (string, error) {
	if s.api == nil {
		return "", fmt.Errorf("commands not enabled")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	c, err := s.api.FetchCase(ctx, token, kind, id)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s: %s (%s)\n", c.Kind, c.ID, c.NatureLabel, c.Status)
	entries := transcript.Project(c.Comments, s.viewer, time.Now())
	if err := transcript.Render(&buf, entries, 40); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Sink) reply(chatID int64, text string) {
	if err := s.send(chatID, text); err != nil {
		slog.Error("telegram reply failed", "chat_id", chatID, "error", err)
	}
}

// send tries Markdown first and falls back to plain text when Telegram
// rejects the formatting.
func (s *Sink) send(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := s.bot.Send(msg); err != nil {
			msg.ParseMode = ""
			if _, err := s.bot.Send(msg); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			end = len(text)
		} else {
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
