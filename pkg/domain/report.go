package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Accepted report date layouts, in the order they are tried. Day and month
// may be written with or without a leading zero.
const (
	DateLayout       = "2/1/2006" // DD/MM/YYYY
	LegacyDateLayout = "2006-1-2" // YYYY-MM-DD
)

// ParseDate parses a report date in DD/MM/YYYY form, falling back to the
// legacy YYYY-MM-DD form.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(LegacyDateLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date format %q: expected DD/MM/YYYY or YYYY-MM-DD", s)
}

// Mode selects which matching entries a report keeps per identity.
type Mode string

// Report modes.
const (
	ModeFirst Mode = "first"
	ModeLast  Mode = "last"
	ModeAll   Mode = "all"
)

// ParseMode maps a user-supplied string onto a Mode. Empty input means ModeAll.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAll:
		return ModeAll, nil
	case ModeFirst:
		return ModeFirst, nil
	case ModeLast:
		return ModeLast, nil
	default:
		return "", ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown report mode %q", s)}
	}
}

// ReportCriteria narrows an extraction. Zero Month and Year mean "any".
type ReportCriteria struct {
	Identity string `json:"student_name,omitempty"`
	Month    int    `json:"month,omitempty"`
	Year     int    `json:"year,omitempty"`
	Mode     Mode   `json:"mode"`
	// IncludeDeleted also reports the history of records whose current state
	// no longer exists.
	IncludeDeleted bool `json:"include_deleted,omitempty"`
}

// Validate rejects out-of-range months and unknown modes.
func (c ReportCriteria) Validate() error {
	if c.Month < 0 || c.Month > 12 {
		return ValidationError{Field: "month", Reason: fmt.Sprintf("month %d out of range 1-12", c.Month)}
	}
	if c.Year < 0 {
		return ValidationError{Field: "year", Reason: fmt.Sprintf("year %d out of range", c.Year)}
	}
	switch c.Mode {
	case "", ModeFirst, ModeLast, ModeAll:
		return nil
	default:
		return ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown report mode %q", c.Mode)}
	}
}

// MatchesIdentity reports whether a record identity passes the identity filter.
func (c ReportCriteria) MatchesIdentity(identity string) bool {
	want := strings.TrimSpace(c.Identity)
	return want == "" || want == strings.TrimSpace(identity)
}

// DateMatches reports whether date satisfies the criteria's month and year.
// Dates that cannot be parsed never match.
func DateMatches(date string, c ReportCriteria) bool {
	parsed, err := ParseDate(date)
	if err != nil {
		return false
	}
	if c.Year != 0 && parsed.Year() != c.Year {
		return false
	}
	if c.Month != 0 && int(parsed.Month()) != c.Month {
		return false
	}
	return true
}

// EntrySource tells where a report entry came from.
type EntrySource string

// Entry sources.
const (
	SourceCurrent EntrySource = "current"
	SourceHistory EntrySource = "history"
)

// ReportEntry is one record state surfaced by an extraction.
type ReportEntry struct {
	Record     Record      `json:"record"`
	Source     EntrySource `json:"source"`
	RecordName string      `json:"record_name"`
	// Version is the history version the snapshot came from, 0 for the current state.
	Version   int       `json:"version,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// DedupKey identifies the logical submission an entry represents.
type DedupKey struct {
	Date    string
	Topic   string
	Subject string
}

// Key returns the entry's dedup key, built from the current field values.
func (e ReportEntry) Key() DedupKey {
	return DedupKey{
		Date:    e.Record.Get(FieldDate),
		Topic:   e.Record.Get(FieldTopic),
		Subject: e.Record.Get(FieldQuranSurah),
	}
}

// ExtractedReport maps a student identity to its ordered entries.
type ExtractedReport map[string][]ReportEntry

// Identities returns the report's identities in lexical order.
func (r ExtractedReport) Identities() []string {
	out := make([]string, 0, len(r))
	for identity := range r {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}
