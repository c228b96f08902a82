package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rahul/hitobot/internal/governance"
)

const userColumns = `telegram_id, name, role, status, created_at`

func scanUser(row rowScanner) (User, error) {
	var u User
	var role, status, created string
	if err := row.Scan(&u.TelegramID, &u.Name, &role, &status, &created); err != nil {
		return User{}, err
	}
	u.CreatedAt = parseTimestamp(created)
	u.Role = governance.Role(role)
	u.Status = governance.Status(status)
	return u, nil
}

// parseTimestamp accepts both SQLite's CURRENT_TIMESTAMP text and RFC 3339.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// GetUser returns the registered user or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.run(ctx, "get_user", func() error {
		var err error
		u, err = scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound
		}
		return err
	})
	if errors.Is(err, errNotFound) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// Register records a first contact. With claimAdmin, the first user to
// register while no administrator exists becomes the authorized admin;
// everyone else waits as a pending notificado. Existing users are returned
// unchanged.
func (s *Store) Register(ctx context.Context, id int64, name string, claimAdmin bool) (User, bool, error) {
	var (
		u       User
		created bool
	)
	err := s.run(ctx, "register_user", func() error {
		created = false
		return s.inTx(ctx, func(tx *sql.Tx) error {
			existing, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, id))
			if err == nil {
				u = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}

			role, status := governance.RoleNotificado, governance.StatusPending
			var admin string
			err = tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, SettingAdminID).Scan(&admin)
			switch {
			case errors.Is(err, sql.ErrNoRows) && claimAdmin:
				role, status = governance.RoleAdmin, governance.StatusAuthorized
				if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`,
					SettingAdminID, strconv.FormatInt(id, 10)); err != nil {
					return err
				}
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return err
			}

			if _, err := tx.ExecContext(ctx, `INSERT INTO users (telegram_id, name, role, status) VALUES (?, ?, ?, ?)`,
				id, name, string(role), string(status)); err != nil {
				return err
			}
			u, err = scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, id))
			created = err == nil
			return err
		})
	})
	return u, created, err
}

// AdminID returns the bootstrap administrator, if one has registered.
func (s *Store) AdminID(ctx context.Context) (int64, bool, error) {
	raw, ok, err := s.GetSetting(ctx, SettingAdminID)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s setting %q", SettingAdminID, raw)
	}
	return id, true, nil
}

// Authorize approves a user with the given role.
func (s *Store) Authorize(ctx context.Context, id int64, role governance.Role) error {
	return s.run(ctx, "authorize_user", func() error {
		res, err := s.DB.ExecContext(ctx, `UPDATE users SET role = ?, status = ? WHERE telegram_id = ?`,
			string(role), string(governance.StatusAuthorized), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// ListUsers returns every registered user ordered by registration.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, "list_users", `SELECT `+userColumns+` FROM users ORDER BY created_at, telegram_id`)
}

// Recipients returns authorized users, who receive daily notifications.
func (s *Store) Recipients(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, "list_recipients",
		`SELECT `+userColumns+` FROM users WHERE status = ? ORDER BY telegram_id`, string(governance.StatusAuthorized))
}

func (s *Store) queryUsers(ctx context.Context, op, query string, args ...any) ([]User, error) {
	var out []User
	err := s.run(ctx, op, func() error {
		out = nil
		rows, err := s.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}
