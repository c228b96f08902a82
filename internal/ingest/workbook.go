package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/store"
)

// NotApplicable marks a milestone that does not apply to a request.
const NotApplicable = "-"

// Descriptive column headers of the schedule workbook.
const (
	ColID          = "N"
	ColName        = "SOLICITUD DE CONTRATACIÓN"
	ColService     = "SERVICIO"
	ColDistrict    = "DISTRITO"
	ColUnit        = "GERENCIA"
	ColResponsible = "RESPONSABLE"
	ColStage       = "ETAPA DE CONTRATACIÓN"
)

var ErrMissingColumn = errors.New("missing column")

// Issue is a row that was skipped or partially read.
type Issue struct {
	Row    int
	Reason string
}

func (i Issue) String() string { return fmt.Sprintf("fila %d: %s", i.Row, i.Reason) }

// Result summarises an import.
type Result struct {
	store.ImportResult
	Skipped int
	Issues  []Issue
}

// Importer persists parsed requests.
type Importer interface {
	ImportRequests(ctx context.Context, reqs []*milestone.Request, reset bool) (store.ImportResult, error)
}

// Loader reads the schedule workbook into requests.
type Loader struct {
	catalog  *milestone.Catalog
	importer Importer
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

func NewLoader(cat *milestone.Catalog, importer Importer, loc *time.Location, logger *zap.Logger) *Loader {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{catalog: cat, importer: importer, loc: loc, now: time.Now, logger: logger}
}

// ImportFile loads the workbook at path. With reset every stored request is
// replaced; otherwise new requests are added and existing ones refreshed.
func (l *Loader) ImportFile(ctx context.Context, path, sheet string, reset bool) (Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()
	return l.importWorkbook(ctx, f, sheet, reset)
}

// Import loads a workbook from r, typically an uploaded document.
func (l *Loader) Import(ctx context.Context, r io.Reader, sheet string, reset bool) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return l.importWorkbook(ctx, f, sheet, reset)
}

func (l *Loader) importWorkbook(ctx context.Context, f *excelize.File, sheet string, reset bool) (Result, error) {
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Result{}, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return Result{}, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	reqs, issues, err := Parse(l.catalog, rows, milestone.DateOf(l.now().In(l.loc)))
	if err != nil {
		return Result{}, err
	}
	res := Result{Skipped: len(issues), Issues: issues}

	stored, err := l.importer.ImportRequests(ctx, reqs, reset)
	if err != nil {
		return res, err
	}
	res.ImportResult = stored
	l.logger.Info("Workbook imported",
		zap.String("sheet", sheet),
		zap.Bool("reset", reset),
		zap.Int("inserted", stored.Inserted),
		zap.Int("updated", stored.Updated),
		zap.Int("deleted", stored.Deleted),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func normalizeHeader(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Parse converts sheet rows, header first, into requests. Rows without a
// usable id or with unreadable dates are reported and skipped. A "-" cell
// closes that milestone on today without a plan.
func Parse(cat *milestone.Catalog, rows [][]string, today milestone.Date) ([]*milestone.Request, []Issue, error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColID)
	}
	index := make(map[string]int)
	for i, h := range rows[0] {
		if key := normalizeHeader(h); key != "" {
			if _, dup := index[key]; !dup {
				index[key] = i
			}
		}
	}
	if _, ok := index[ColID]; !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColID)
	}
	kindCols := make([]int, cat.Len())
	for pos := range kindCols {
		col, ok := index[normalizeHeader(cat.At(pos).Name)]
		if !ok {
			col = -1
		}
		kindCols[pos] = col
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		out    []*milestone.Request
		issues []Issue
		seen   = make(map[int64]bool)
	)
	for n, row := range rows[1:] {
		line := n + 2
		rawID := cell(row, ColID)
		if rawID == "" {
			continue
		}
		id, err := parseID(rawID)
		if err != nil {
			issues = append(issues, Issue{Row: line, Reason: fmt.Sprintf("N inválido %q", rawID)})
			continue
		}
		if seen[id] {
			issues = append(issues, Issue{Row: line, Reason: fmt.Sprintf("N %d repetido", id)})
			continue
		}

		r := &milestone.Request{
			ID:          id,
			Name:        cell(row, ColName),
			Service:     cell(row, ColService),
			District:    cell(row, ColDistrict),
			Unit:        cell(row, ColUnit),
			Responsible: cell(row, ColResponsible),
			Stage:       cell(row, ColStage),
		}
		r.Normalize(cat)

		var bad string
		for pos, col := range kindCols {
			if col < 0 || col >= len(row) {
				continue
			}
			d, na, err := ParseCellDate(row[col])
			if err != nil {
				bad = fmt.Sprintf("%s: %v", cat.At(pos).Name, err)
				break
			}
			if na {
				r.Records[pos] = milestone.Record{Actual: today, NotApplicable: true}
				continue
			}
			r.Records[pos].Planned = d
		}
		if bad != "" {
			issues = append(issues, Issue{Row: line, Reason: bad})
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out, issues, nil
}

func parseID(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f >= math.MaxInt64 || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return int64(f), nil
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"2006-01-02 15:04:05",
	"02-01-2006",
}

// ParseCellDate reads a milestone cell. It accepts Excel date serials and
// common day-first layouts. Empty cells yield a zero date; "-" reports the
// milestone as not applicable.
func ParseCellDate(raw string) (d milestone.Date, notApplicable bool, err error) {
	s := strings.TrimSpace(raw)
	switch s {
	case "":
		return milestone.Date{}, false, nil
	case NotApplicable:
		return milestone.Date{}, true, nil
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return milestone.Date{}, false, fmt.Errorf("%w: %q", milestone.ErrInvalidDate, s)
		}
		return milestone.DateOf(t), false, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return milestone.DateOf(t), false, nil
		}
	}
	return milestone.Date{}, false, fmt.Errorf("%w: %q", milestone.ErrInvalidDate, s)
}
