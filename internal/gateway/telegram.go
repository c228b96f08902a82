package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Handler Handler
	logger  *zap.Logger
	client  *http.Client
}

func NewTelegramGateway(token string, handler Handler, logger *zap.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Authorized on Telegram", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:     bot,
		Handler: handler,
		logger:  logger,
		client:  http.DefaultClient,
	}, nil
}

func (tg *TelegramGateway) Name() string { return "telegram" }

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			tg.dispatch(ctx, update.Message)
		}
	}
}

func (tg *TelegramGateway) dispatch(ctx context.Context, m *tgbotapi.Message) {
	msg := Incoming{
		Channel:  tg.Name(),
		ChatID:   strconv.FormatInt(m.Chat.ID, 10),
		UserID:   m.From.ID,
		UserName: displayName(m.From),
		Text:     m.Text,
	}
	if m.Document != nil {
		msg.Document = &Document{FileID: m.Document.FileID, FileName: m.Document.FileName}
		msg.Text = m.Caption
	}

	tg.logger.Debug("Message received",
		zap.String("chat_id", msg.ChatID),
		zap.String("user", m.From.UserName),
		zap.String("text", msg.Text),
	)

	reply := tg.Handler.Handle(ctx, msg)
	if reply == "" {
		return
	}
	if err := tg.Send(msg.ChatID, reply); err != nil {
		// The command already ran; only the reply is lost.
		tg.logger.Error("Reply failed", zap.String("chat_id", msg.ChatID), zap.Error(err))
	}
}

func displayName(u *tgbotapi.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.UserName
	}
	return name
}

// Send delivers text in HTML parse mode, split at the message size limit.
func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	for _, chunk := range Split(text, MaxMessageLen) {
		msg := tgbotapi.NewMessage(id, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := tg.Bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Fetch downloads an uploaded document.
func (tg *TelegramGateway) Fetch(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := tg.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := tg.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: %s", fileID, resp.Status)
	}
	return resp.Body, nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
