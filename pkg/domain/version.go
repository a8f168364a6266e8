package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FieldChange captures one field's value before and after a save.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Changes maps field names to their change.
type Changes map[string]FieldChange

// VersionEntry is one immutable entry of a record's history.
type VersionEntry struct {
	Version    int       `json:"version"`
	Timestamp  Timestamp `json:"timestamp"`
	RecordName string    `json:"profile_file,omitempty"`
	Changes    Changes   `json:"changes"`
	Snapshot   Record    `json:"snapshot"`
}

// Validate checks the invariants every stored entry must satisfy.
func (e VersionEntry) Validate() error {
	if e.Version < 1 {
		return fmt.Errorf("version %d out of range", e.Version)
	}
	if len(e.Changes) == 0 {
		return fmt.Errorf("version %d has no changes", e.Version)
	}
	if e.Snapshot == nil {
		return fmt.Errorf("version %d has no snapshot", e.Version)
	}
	return nil
}

// Diff returns every field whose value differs between before and after. A field
// missing on one side compares as the empty string, so Diff never reports a
// change between "absent" and "". The result is empty when nothing changed.
func Diff(before, after Record) Changes {
	changes := Changes{}
	for field, oldValue := range before {
		if newValue := after[field]; newValue != oldValue {
			changes[field] = FieldChange{Old: oldValue, New: newValue}
		}
	}
	for field, newValue := range after {
		if _, seen := before[field]; seen {
			continue
		}
		if newValue != "" {
			changes[field] = FieldChange{Old: "", New: newValue}
		}
	}
	return changes
}

// ApplyChanges replays changes onto base and returns the resulting record.
// Fields whose new value is empty are removed.
func ApplyChanges(base Record, changes Changes) Record {
	out := base.Clone()
	if out == nil {
		out = Record{}
	}
	for field, change := range changes {
		if change.New == "" {
			delete(out, field)
			continue
		}
		out[field] = change.New
	}
	return out
}

// NewVersionEntry builds the entry recording the move from before to after, or
// returns false when the two states are equal.
func NewVersionEntry(name string, version int, before, after Record, at time.Time) (VersionEntry, bool) {
	changes := Diff(before, after)
	if len(changes) == 0 {
		return VersionEntry{}, false
	}
	return VersionEntry{
		Version:    version,
		Timestamp:  Timestamp{Time: at},
		RecordName: name,
		Changes:    changes,
		Snapshot:   after.Clone(),
	}, true
}

// LastVersion returns the highest version number in entries, or 0.
func LastVersion(entries []VersionEntry) int {
	last := 0
	for _, e := range entries {
		if e.Version > last {
			last = e.Version
		}
	}
	return last
}

// Timestamp is an ISO-8601 instant. It is written as RFC 3339 and also accepts
// zone-less values such as 2024-12-01T10:00:00, which are read as local time.
type Timestamp struct {
	time.Time
}

var legacyTimestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
}

// ParseTimestamp parses an RFC 3339 or zone-less ISO-8601 timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{Time: t}, nil
	}
	for _, layout := range legacyTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// String formats the timestamp as RFC 3339, or "" for the zero time.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler. Empty strings and null decode to
// the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(*s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
