package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxIDLength        = 128
	MaxUtteranceLength = 1000
	MinChildAge        = 2
	MaxChildAge        = 14
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	idRegex    = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateID checks an opaque identifier such as a session or child id
func ValidateID(field, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ValidationError{Field: field, Message: field + " is required"}
	}
	if len(id) > MaxIDLength {
		return ValidationError{Field: field, Message: fmt.Sprintf("%s must be at most %d characters", field, MaxIDLength)}
	}
	if !idRegex.MatchString(id) {
		return ValidationError{Field: field, Message: field + " contains invalid characters"}
	}
	return nil
}

// ValidateUtterance checks the text of a child utterance
func ValidateUtterance(text string) error {
	if strings.TrimSpace(text) == "" {
		return ValidationError{Field: "text", Message: "text is required"}
	}
	if utf8.RuneCountInString(text) > MaxUtteranceLength {
		return ValidationError{Field: "text", Message: fmt.Sprintf("text must be at most %d characters", MaxUtteranceLength)}
	}
	return nil
}

// ValidateStreamRequest checks a streaming request. Identifiers are checked
// first so a request missing them is always rejected for that reason.
func ValidateStreamRequest(sessionID, childID, text string) error {
	if err := ValidateID("session_id", sessionID); err != nil {
		return err
	}
	if err := ValidateID("child_id", childID); err != nil {
		return err
	}
	return ValidateUtterance(text)
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: "email", Message: "email is required"}
	}
	if !emailRegex.MatchString(email) {
		return ValidationError{Field: "email", Message: "invalid email format"}
	}
	return nil
}

// ValidateName checks if a name is valid
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) < 2 {
		return ValidationError{Field: "name", Message: "name must be at least 2 characters"}
	}
	return nil
}

// ValidateAge checks a child's age
func ValidateAge(age int) error {
	if age < MinChildAge || age > MaxChildAge {
		return ValidationError{Field: "age", Message: fmt.Sprintf("age must be between %d and %d", MinChildAge, MaxChildAge)}
	}
	return nil
}
