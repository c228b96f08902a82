package store

import (
	"context"
	"database/sql"
	"errors"
)

// WasNotified reports whether n has already been delivered.
func (s *Store) WasNotified(ctx context.Context, n Notification) (bool, error) {
	var seen bool
	err := s.run(ctx, "was_notified", func() error {
		var one int
		err := s.DB.QueryRowContext(ctx,
			`SELECT 1 FROM notification_log WHERE request_id = ? AND kind = ? AND planned = ? AND recipient = ?`,
			n.RequestID, n.Kind, n.Planned, n.Recipient).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			seen = false
			return nil
		case err != nil:
			return err
		}
		seen = true
		return nil
	})
	return seen, err
}

// RecordNotification logs a delivered reminder. Repeats are ignored.
func (s *Store) RecordNotification(ctx context.Context, n Notification) error {
	return s.run(ctx, "record_notification", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT OR IGNORE INTO notification_log (request_id, kind, planned, recipient) VALUES (?, ?, ?, ?)`,
			n.RequestID, n.Kind, n.Planned, n.Recipient)
		return err
	})
}
