package model

import (
	"fmt"
	"time"
)

// Window names a leaderboard time window.
type Window string

// Supported windows.
const (
	Window7d  Window = "7d"
	Window30d Window = "30d"
	Window1y  Window = "1y"
	WindowAll Window = "all"
)

// Windows lists every window in display order.
var Windows = []Window{Window7d, Window30d, Window1y, WindowAll}

// ParseWindow maps a query value to a Window. Empty selects WindowAll.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "":
		return WindowAll, nil
	case Window7d, Window30d, Window1y, WindowAll:
		return Window(s), nil
	}
	return "", fmt.Errorf("%w: unknown window %q", ErrInvalidWindow, s)
}

// Start returns the inclusive lower bound of w relative to now. WindowAll
// returns the zero time.
func (w Window) Start(now time.Time) time.Time {
	switch w {
	case Window7d:
		return now.AddDate(0, 0, -7)
	case Window30d:
		return now.AddDate(0, 0, -30)
	case Window1y:
		return now.AddDate(-1, 0, 0)
	}
	return time.Time{}
}

// Counts holds activity totals over one window.
type Counts struct {
	Contributions int64 `json:"contributions"`
	Merges        int64 `json:"merges"`
}

// RawMetrics is what the fetcher reports for one handle. Stars are all-time.
type RawMetrics struct {
	Stars    int64  `json:"stars"`
	AllTime  Counts `json:"all_time"`
	Last7d   Counts `json:"last_7d"`
	Last30d  Counts `json:"last_30d"`
	LastYear Counts `json:"last_year"`
}

// Counts returns the counts for w.
func (r RawMetrics) Counts(w Window) Counts {
	switch w {
	case Window7d:
		return r.Last7d
	case Window30d:
		return r.Last30d
	case Window1y:
		return r.LastYear
	}
	return r.AllTime
}

// WindowScores holds the contribution score per window.
type WindowScores struct {
	All int64 `json:"all"`
	D7  int64 `json:"7d"`
	D30 int64 `json:"30d"`
	Y1  int64 `json:"1y"`
}

// Get returns the score for w.
func (s WindowScores) Get(w Window) int64 {
	switch w {
	case Window7d:
		return s.D7
	case Window30d:
		return s.D30
	case Window1y:
		return s.Y1
	}
	return s.All
}

// MetricsSnapshot is the persisted result of one sync for one user. A sync
// replaces every metric field; EndorsementCount is maintained by endorsement
// toggles and SyncedAt is bookkeeping.
type MetricsSnapshot struct {
	UserID           string       `json:"user_id"`
	RawMetrics                    // flattened into the JSON object
	Scores           WindowScores `json:"scores"`
	EndorsementCount int64        `json:"endorsement_count"`
	SyncedAt         time.Time    `json:"synced_at"`
}

// SameMetrics reports whether m and o carry identical metric fields,
// ignoring the endorsement count and sync time.
func (m MetricsSnapshot) SameMetrics(o MetricsSnapshot) bool {
	return m.UserID == o.UserID && m.RawMetrics == o.RawMetrics && m.Scores == o.Scores
}

// HasHistory reports whether the user has any recorded contribution.
func (m MetricsSnapshot) HasHistory() bool {
	return m.AllTime.Contributions > 0
}
