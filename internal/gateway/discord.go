package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordGateway posts notifications to Discord channels. It does not take
// commands.
type DiscordGateway struct {
	Session *discordgo.Session
	logger  *zap.Logger
}

// discordMaxLen is Discord's per-message limit.
const discordMaxLen = 2000

func NewDiscordGateway(token string, logger *zap.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordGateway{Session: s, logger: logger}, nil
}

func (d *DiscordGateway) Name() string { return "discord" }

func (d *DiscordGateway) Start(ctx context.Context) error {
	if err := d.Session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	d.logger.Info("Connected to Discord")
	<-ctx.Done()
	return nil
}

// Send posts text to a channel. HTML markup is stripped since Discord
// renders Markdown.
func (d *DiscordGateway) Send(channelID string, text string) error {
	for _, chunk := range Split(StripHTML(text), discordMaxLen) {
		if _, err := d.Session.ChannelMessageSend(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordGateway) Stop() error {
	return d.Session.Close()
}
