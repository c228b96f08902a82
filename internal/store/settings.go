package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	SettingLeadDays         = "lead_days"
	SettingNotificationTime = "notification_time"
	SettingAdminID          = "admin_id"
	SettingLastSweep        = "last_sweep"
)

// GetSetting returns the raw value of key and whether it is set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.run(ctx, "get_setting", func() error {
		err := s.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound
		}
		return err
	})
	if errors.Is(err, errNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.run(ctx, "set_setting", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		return err
	})
}

// LeadDays returns the configured reminder window, or def when unset.
func (s *Store) LeadDays(ctx context.Context, def int) (int, error) {
	raw, ok, err := s.GetSetting(ctx, SettingLeadDays)
	if err != nil || !ok {
		return def, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def, fmt.Errorf("invalid %s setting %q", SettingLeadDays, raw)
	}
	return n, nil
}

func (s *Store) SetLeadDays(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("lead days must not be negative: %d", n)
	}
	return s.SetSetting(ctx, SettingLeadDays, strconv.Itoa(n))
}

// NotificationTime returns the daily sweep time as "HH:MM", or def when unset.
func (s *Store) NotificationTime(ctx context.Context, def string) (string, error) {
	raw, ok, err := s.GetSetting(ctx, SettingNotificationTime)
	if err != nil || !ok {
		return def, err
	}
	if _, _, err := ParseClock(raw); err != nil {
		return def, err
	}
	return raw, nil
}

func (s *Store) SetNotificationTime(ctx context.Context, hhmm string) error {
	h, m, err := ParseClock(hhmm)
	if err != nil {
		return err
	}
	return s.SetSetting(ctx, SettingNotificationTime, fmt.Sprintf("%02d:%02d", h, m))
}

// ParseClock parses a 24h "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// LastSweep returns the local date of the last scheduled sweep, "" if none.
func (s *Store) LastSweep(ctx context.Context) (string, error) {
	raw, _, err := s.GetSetting(ctx, SettingLastSweep)
	return raw, err
}

func (s *Store) SetLastSweep(ctx context.Context, day string) error {
	return s.SetSetting(ctx, SettingLastSweep, day)
}
