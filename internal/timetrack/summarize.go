package timetrack

import (
	"time"

	"github.com/antigravity-dev/taskflow/internal/model"
)

// Totals accumulates tracked seconds. BillableSeconds plus
// NonBillableSeconds always equals TotalSeconds.
type Totals struct {
	TotalSeconds       int64 `json:"total_seconds"`
	BillableSeconds    int64 `json:"billable_seconds"`
	NonBillableSeconds int64 `json:"non_billable_seconds"`
}

func (t *Totals) add(e model.TimeEntry) {
	t.TotalSeconds += e.DurationSeconds
	if e.Billable {
		t.BillableSeconds += e.DurationSeconds
	} else {
		t.NonBillableSeconds += e.DurationSeconds
	}
}

// Summary is the result of aggregating a set of closed entries.
type Summary struct {
	Totals    Totals            `json:"totals"`
	ByDay     map[string]Totals `json:"by_day"`
	ByProject map[string]Totals `json:"by_project"`
	ByUser    map[string]Totals `json:"by_user"`
}

// Summarize reduces entries to per-day, per-project and per-user totals.
// Days are the calendar day of the entry's start time in loc (nil means
// UTC). Running entries are skipped. The reduction is pure and
// order-independent: input ordering never changes the result.
func Summarize(entries []model.TimeEntry, loc *time.Location) Summary {
	if loc == nil {
		loc = time.UTC
	}
	s := Summary{
		ByDay:     make(map[string]Totals),
		ByProject: make(map[string]Totals),
		ByUser:    make(map[string]Totals),
	}
	for _, e := range entries {
		if e.Running() {
			continue
		}
		s.Totals.add(e)

		day := e.StartTime.In(loc).Format("2006-01-02")
		dt := s.ByDay[day]
		dt.add(e)
		s.ByDay[day] = dt

		if e.ProjectID != "" {
			pt := s.ByProject[e.ProjectID]
			pt.add(e)
			s.ByProject[e.ProjectID] = pt
		}

		ut := s.ByUser[e.UserID]
		ut.add(e)
		s.ByUser[e.UserID] = ut
	}
	return s
}
