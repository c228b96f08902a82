package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/en"

	"github.com/rahul/hitobot/internal/milestone"
)

// dateParser only knows rules that resolve to a day. Clock-time rules such
// as "5pm" would silently mean today.
var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(
		en.Weekday(rules.Override),
		en.CasualDate(rules.Override),
		en.Deadline(rules.Override),
		en.PastTime(rules.Override),
		en.ExactMonthDate(rules.Override),
	)
	return w
}()

var exactLayouts = []string{"02/01/2006", "2/1/2006", "2006-01-02"}

// ParseUserDate reads a date typed in chat. Day-first and ISO dates are tried
// first; relative phrases such as "tomorrow" or "in 3 days" are resolved
// against now. The phrase must make up the whole input.
func ParseUserDate(input string, now time.Time) (milestone.Date, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return milestone.Date{}, fmt.Errorf("%w: empty", milestone.ErrInvalidDate)
	}
	for _, layout := range exactLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return milestone.DateOf(t), nil
		}
	}
	// A numeric date that failed every layout is malformed, not relative.
	if strings.Trim(s, "0123456789/-. ") == "" {
		return milestone.Date{}, fmt.Errorf("%w: %q", milestone.ErrInvalidDate, s)
	}
	r, err := dateParser.Parse(s, now)
	if err != nil || r == nil || r.Index != 0 || len(r.Text) != len(s) {
		return milestone.Date{}, fmt.Errorf("%w: %q", milestone.ErrInvalidDate, s)
	}
	return milestone.DateOf(r.Time.In(now.Location())), nil
}

var weekdays = [...]string{"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

// WeekdayName returns the Spanish name of the date's weekday.
func WeekdayName(d milestone.Date) string {
	return weekdays[d.Weekday()]
}
