package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var recordValidate = validator.New()

// maxFieldLengths bounds free-text fields, counted in characters.
var maxFieldLengths = map[string]int{
	FieldTeacherName:  200,
	FieldQuranSurah:   200,
	FieldNoorPage:     500,
	FieldTajweedRules: 500,
	FieldTopic:        500,
	FieldHomework:     2000,
	FieldParentNotes:  2000,
	FieldAdminNotes:   2000,
}

const maxStudentNameLength = 200

// ValidateRecord checks a record at the write boundary: the identity field must
// be present, an email must be well formed and a date must parse under one of
// the accepted layouts. Free-text fields are length-bounded.
func ValidateRecord(r Record) error {
	name := strings.TrimSpace(r.Get(FieldStudentName))
	if name == "" {
		return ValidationError{Field: FieldStudentName, Reason: "student name is required"}
	}
	if utf8.RuneCountInString(name) > maxStudentNameLength {
		return ValidationError{Field: FieldStudentName, Reason: fmt.Sprintf("too long (maximum %d characters)", maxStudentNameLength)}
	}
	if email := strings.TrimSpace(r.Get(FieldEmail)); email != "" {
		if err := recordValidate.Var(email, "email"); err != nil {
			return ValidationError{Field: FieldEmail, Reason: "invalid email format"}
		}
	}
	if date := strings.TrimSpace(r.Get(FieldDate)); date != "" {
		if _, err := ParseDate(date); err != nil {
			return ValidationError{Field: FieldDate, Reason: "invalid date format, use DD/MM/YYYY or YYYY-MM-DD"}
		}
	}
	for _, field := range r.Fields() {
		limit, ok := maxFieldLengths[field]
		if !ok {
			continue
		}
		if err := recordValidate.Var(r[field], fmt.Sprintf("max=%d", limit)); err != nil {
			return ValidationError{Field: field, Reason: fmt.Sprintf("too long (maximum %d characters)", limit)}
		}
	}
	return nil
}
