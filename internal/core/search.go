package core

import (
	"circlereports/pkg/domain"
	"sort"
	"strings"
)

// DefaultSearchFields are searched when a query names no fields.
var DefaultSearchFields = []string{
	domain.FieldStudentName,
	domain.FieldTeacherName,
	domain.FieldEmail,
	domain.FieldDate,
}

// FilterRecords keeps the records where any of fields contains query,
// ignoring case. An empty query keeps everything.
func FilterRecords(records []NamedRecord, query string, fields []string) []NamedRecord {
	query = strings.ToLower(strings.TrimSpace(query))
	if len(fields) == 0 {
		fields = DefaultSearchFields
	}
	out := make([]NamedRecord, 0, len(records))
	for _, nr := range records {
		if query == "" || matchesAny(nr.Record, query, fields) {
			out = append(out, nr)
		}
	}
	return out
}

func matchesAny(r domain.Record, query string, fields []string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(r.Get(field)), query) {
			return true
		}
	}
	return false
}

// SortKeyName sorts by storage name instead of a field.
const SortKeyName = "name"

// SortRecords orders records in place by key: the record name, the parsed
// date (unparseable dates last), or any other field compared case-insensitively.
// Ties are broken by record name.
func SortRecords(records []NamedRecord, key string) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch key {
		case "", SortKeyName:
			return a.Name < b.Name
		case domain.FieldDate:
			da, errA := domain.ParseDate(a.Record.Get(key))
			db, errB := domain.ParseDate(b.Record.Get(key))
			switch {
			case errA != nil && errB != nil:
			case errA != nil:
				return false
			case errB != nil:
				return true
			case !da.Equal(db):
				return da.Before(db)
			}
		default:
			va, vb := strings.ToLower(a.Record.Get(key)), strings.ToLower(b.Record.Get(key))
			if va != vb {
				return va < vb
			}
		}
		return a.Name < b.Name
	})
}
