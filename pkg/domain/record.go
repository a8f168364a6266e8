// Package domain defines the records, version entries, report queries and
// storage contracts shared by circlereports.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Field names understood by the store and the extraction engine. Records may
// carry additional fields; they are persisted and diffed like any other.
const (
	FieldStudentName  = "student_name"
	FieldDate         = "date"
	FieldTeacherName  = "teacher_name"
	FieldEmail        = "email"
	FieldQuranSurah   = "quran_surah"
	FieldTopic        = "topic"
	FieldTafseer      = "tafseer"
	FieldNoorPage     = "noor_page"
	FieldTajweedRules = "tajweed_rules"
	FieldHomework     = "homework"
	FieldParentNotes  = "parent_notes"
	FieldAdminNotes   = "admin_notes"
)

// Metadata keys are prefixed with an underscore and never persisted as part of
// a record's state.
const (
	metadataPrefix = "_"
	// FieldSourceFile names the record file an archived record came from.
	FieldSourceFile = "_file"
)

// UnknownIdentity groups stored records that carry no identity value.
const UnknownIdentity = "Unknown"

// Record is the current state of one tracked profile: a flat map of named
// string fields. The identity field is student_name.
type Record map[string]string

// Identity returns the trimmed identity value, or UnknownIdentity when unset.
func (r Record) Identity() string {
	if name := strings.TrimSpace(r[FieldStudentName]); name != "" {
		return name
	}
	return UnknownIdentity
}

// Get returns the value for field, treating an absent field as empty.
func (r Record) Get(field string) string {
	return r[field]
}

// Clone returns an independent copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WithoutMetadata returns a copy without underscore-prefixed keys.
func (r Record) WithoutMetadata() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if strings.HasPrefix(k, metadataPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Fields returns the record's field names in lexical order.
func (r Record) Fields() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two records hold the same values, treating an absent
// field as an empty one.
func (r Record) Equal(other Record) bool {
	return len(Diff(r, other)) == 0
}

var (
	unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	maxNameBytes    = 255
)

// SanitizeName turns a caller-supplied record name into a safe file base name.
// Directory components are dropped, reserved characters replaced and a trailing
// .json extension removed. Empty input yields "unnamed".
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		name = ""
	}
	name = strings.TrimSuffix(name, ".json")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if len(name) > maxNameBytes {
		name = name[:maxNameBytes]
	}
	if name == "" {
		return "unnamed"
	}
	return name
}

// GenerateName derives a record name from the identity and a timestamp, e.g.
// Ali_Hassan_20241201_101500.
func GenerateName(r Record, at time.Time) string {
	student := strings.Join(strings.Fields(r.Get(FieldStudentName)), "_")
	if student == "" {
		student = "student"
	}
	return SanitizeName(student + "_" + at.Format("20060102_150405"))
}

// DecodeRecord parses a stored JSON object into a Record. Strings are kept as
// is, numbers keep their literal text, booleans become "true"/"false" and null
// becomes the empty string. Nested objects and arrays are rejected.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("record is not a JSON object")
	}
	out := make(Record, len(raw))
	for field, value := range raw {
		switch v := value.(type) {
		case nil:
			out[field] = ""
		case string:
			out[field] = v
		case json.Number:
			out[field] = v.String()
		case bool:
			out[field] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("field %s: unsupported value of type %T", field, value)
		}
	}
	return out, nil
}
