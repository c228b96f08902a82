package notify

import (
	"context"
	"strconv"

	"github.com/rahul/hitobot/internal/store"
)

// UserLister returns the authorized chat users.
type UserLister interface {
	Recipients(ctx context.Context) ([]store.User, error)
}

// Directory resolves recipients from authorized Telegram users plus any
// configured Discord channels.
type Directory struct {
	Users           UserLister
	DiscordChannels []string
}

func (d Directory) Recipients(ctx context.Context) ([]Recipient, error) {
	var out []Recipient
	if d.Users != nil {
		users, err := d.Users.Recipients(ctx)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, Recipient{Channel: "telegram", Address: strconv.FormatInt(u.TelegramID, 10)})
		}
	}
	for _, ch := range d.DiscordChannels {
		out = append(out, Recipient{Channel: "discord", Address: ch})
	}
	return out, nil
}
