package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/hitobot/internal/milestone"
)

const requestColumns = `id, name, service, district, unit, responsible, stage`

func nullDate(d milestone.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func scanDate(ns sql.NullString) (milestone.Date, error) {
	if !ns.Valid {
		return milestone.Date{}, nil
	}
	return milestone.ParseDate(ns.String)
}

func encodeHistory(h []milestone.Date) (string, error) {
	out := make([]string, len(h))
	for i, d := range h {
		out[i] = d.String()
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func decodeHistory(raw string) ([]milestone.Date, error) {
	if raw == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	out := make([]milestone.Date, 0, len(ss))
	for _, s := range ss {
		d, err := milestone.ParseDate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*milestone.Request, error) {
	r := &milestone.Request{}
	if err := row.Scan(&r.ID, &r.Name, &r.Service, &r.District, &r.Unit, &r.Responsible, &r.Stage); err != nil {
		return nil, err
	}
	return r, nil
}

// loadRecords fills the records of reqs from the milestones table. Rows for
// kinds that are no longer in the catalog are ignored.
func (s *Store) loadRecords(ctx context.Context, q querier, reqs map[int64]*milestone.Request) error {
	for _, r := range reqs {
		r.Normalize(s.catalog)
	}
	query := `SELECT request_id, kind, planned, actual, postponements, history, not_applicable FROM milestones`
	var args []any
	if len(reqs) == 1 {
		for id := range reqs {
			query += ` WHERE request_id = ?`
			args = append(args, id)
		}
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id              int64
			kind, history   string
			planned, actual sql.NullString
			postponements   int
			notApplicable   bool
		)
		if err := rows.Scan(&id, &kind, &planned, &actual, &postponements, &history, &notApplicable); err != nil {
			return err
		}
		r, ok := reqs[id]
		if !ok {
			continue
		}
		k, ok := s.catalog.Lookup(kind)
		if !ok {
			continue
		}
		rec := milestone.Record{Postponements: postponements, NotApplicable: notApplicable}
		if rec.Planned, err = scanDate(planned); err != nil {
			return err
		}
		if rec.Actual, err = scanDate(actual); err != nil {
			return err
		}
		if rec.History, err = decodeHistory(history); err != nil {
			return err
		}
		r.Records[k.Position] = rec
	}
	return rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetRequest reads a request and its records in one read transaction.
func (s *Store) GetRequest(ctx context.Context, id int64) (*milestone.Request, error) {
	var out *milestone.Request
	err := s.run(ctx, "get_request", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
			r, err := scanRequest(row)
			if errors.Is(err, sql.ErrNoRows) {
				return milestone.ErrRequestNotFound
			}
			if err != nil {
				return err
			}
			if err := s.loadRecords(ctx, tx, map[int64]*milestone.Request{id: r}); err != nil {
				return err
			}
			out = r
			return nil
		})
	})
	return out, err
}

// ListRequests returns every request matching f ordered by id, active or not.
func (s *Store) ListRequests(ctx context.Context, f milestone.Filter) ([]*milestone.Request, error) {
	var out []*milestone.Request
	err := s.run(ctx, "list_requests", func() error {
		out = nil
		return s.inTx(ctx, func(tx *sql.Tx) error {
			where, args := filterClause(f)
			rows, err := tx.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests`+where+` ORDER BY id`, args...)
			if err != nil {
				return err
			}
			byID := make(map[int64]*milestone.Request)
			for rows.Next() {
				r, err := scanRequest(rows)
				if err != nil {
					rows.Close()
					return err
				}
				byID[r.ID] = r
				out = append(out, r)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			if len(byID) == 0 {
				return nil
			}
			return s.loadRecords(ctx, tx, byID)
		})
	})
	return out, err
}

// ListActiveRequests returns the requests matching f that have a current
// milestone, ordered by id.
func (s *Store) ListActiveRequests(ctx context.Context, f milestone.Filter) ([]*milestone.Request, error) {
	all, err := s.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out, nil
}

func filterClause(f milestone.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" || val == milestone.AnyValue {
			return
		}
		conds = append(conds, col+" = ?")
		args = append(args, val)
	}
	add("district", f.District)
	add("unit", f.Unit)
	add("service", f.Service)
	if f.OwnedByUnit {
		conds = append(conds, "unit = responsible")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SaveUpdate applies u in a single transaction.
func (s *Store) SaveUpdate(ctx context.Context, u milestone.Update) error {
	return s.run(ctx, "save_update", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, u.RequestID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return milestone.ErrRequestNotFound
			}
			if err != nil {
				return err
			}
			for _, m := range u.Milestones {
				if err := s.applyMilestone(ctx, tx, u.RequestID, m); err != nil {
					return err
				}
			}
			if u.Responsible != nil {
				if _, err := tx.ExecContext(ctx, `UPDATE requests SET responsible = ? WHERE id = ?`, *u.Responsible, u.RequestID); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (s *Store) applyMilestone(ctx context.Context, tx *sql.Tx, id int64, m milestone.MilestoneUpdate) error {
	if m.Position < 0 || m.Position >= s.catalog.Len() {
		return fmt.Errorf("milestone position %d out of range", m.Position)
	}
	kind := s.catalog.At(m.Position).Key

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO milestones (request_id, kind) VALUES (?, ?)`, id, kind); err != nil {
		return err
	}

	var raw string
	var postponements int
	var actual sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT history, postponements, actual FROM milestones WHERE request_id = ? AND kind = ?`,
		id, kind).Scan(&raw, &postponements, &actual)
	if err != nil {
		return err
	}
	history, err := decodeHistory(raw)
	if err != nil {
		return err
	}

	if m.HistoryAppend != nil {
		history = append(history, *m.HistoryAppend)
	}
	if m.IncrementPostponement {
		postponements++
	}
	encoded, err := encodeHistory(history)
	if err != nil {
		return err
	}

	sets := []string{"history = ?", "postponements = ?"}
	args := []any{encoded, postponements}
	if m.Planned != nil {
		sets = append(sets, "planned = ?")
		args = append(args, nullDate(*m.Planned))
	}
	if m.Actual != nil && !actual.Valid {
		sets = append(sets, "actual = ?")
		args = append(args, nullDate(*m.Actual))
	}
	args = append(args, id, kind)
	_, err = tx.ExecContext(ctx,
		`UPDATE milestones SET `+strings.Join(sets, ", ")+` WHERE request_id = ? AND kind = ?`, args...)
	return err
}

// ImportRequests loads requests produced by ingestion. With reset every
// existing request is removed first and the batch is inserted as is.
// Otherwise new ids are inserted with their records and existing ids only
// get their descriptive fields refreshed, leaving progress untouched.
func (s *Store) ImportRequests(ctx context.Context, reqs []*milestone.Request, reset bool) (ImportResult, error) {
	var res ImportResult
	err := s.run(ctx, "import_requests", func() error {
		res = ImportResult{}
		return s.inTx(ctx, func(tx *sql.Tx) error {
			if reset {
				if _, err := tx.ExecContext(ctx, `DELETE FROM milestones`); err != nil {
					return err
				}
				out, err := tx.ExecContext(ctx, `DELETE FROM requests`)
				if err != nil {
					return err
				}
				n, _ := out.RowsAffected()
				res.Deleted = int(n)
				if _, err := tx.ExecContext(ctx, `DELETE FROM notification_log`); err != nil {
					return err
				}
			}
			for _, r := range reqs {
				var exists int
				err := tx.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, r.ID).Scan(&exists)
				switch {
				case errors.Is(err, sql.ErrNoRows):
					if err := s.insertRequest(ctx, tx, r); err != nil {
						return err
					}
					res.Inserted++
				case err != nil:
					return err
				default:
					_, err := tx.ExecContext(ctx,
						`UPDATE requests SET name = ?, service = ?, district = ?, unit = ?, responsible = ?, stage = ? WHERE id = ?`,
						r.Name, r.Service, r.District, r.Unit, r.Responsible, r.Stage, r.ID)
					if err != nil {
						return err
					}
					res.Updated++
				}
			}
			return nil
		})
	})
	return res, err
}

func (s *Store) insertRequest(ctx context.Context, tx *sql.Tx, r *milestone.Request) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Service, r.District, r.Unit, r.Responsible, r.Stage)
	if err != nil {
		return err
	}
	for pos, rec := range r.Records {
		if pos >= s.catalog.Len() {
			break
		}
		if rec.Planned.IsZero() && rec.Actual.IsZero() && !rec.NotApplicable {
			continue
		}
		history, err := encodeHistory(rec.History)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO milestones (request_id, kind, planned, actual, postponements, history, not_applicable) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, s.catalog.At(pos).Key, nullDate(rec.Planned), nullDate(rec.Actual), rec.Postponements, history, rec.NotApplicable)
		if err != nil {
			return err
		}
	}
	return nil
}

// CountRequests returns how many requests are stored.
func (s *Store) CountRequests(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, "count_requests", func() error {
		return s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n)
	})
	return n, err
}
