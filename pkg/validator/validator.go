package validator

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameLength    = 255
	maxContentLength = 10000
	maxStatusLength  = 255
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func ValidateRegister(name, email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	name = strings.TrimSpace(name)
	if name == "" {
		errs.Add("name", "Name is required")
	} else if utf8.RuneCountInString(name) < 2 {
		errs.Add("name", "Name must be at least 2 characters")
	} else if utf8.RuneCountInString(name) > maxNameLength {
		errs.Add("name", "Name is too long")
	}

	validateEmail(email, errs)
	validatePassword(password, errs)

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	validateEmail(email, errs)
	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

// ValidateSendMessage checks the shape of an outgoing message. Whether the
// referenced application exists is decided by the service.
func ValidateSendMessage(content, statusUpdate, appType string, appID int64) ValidationErrors {
	errs := make(ValidationErrors)

	content = strings.TrimSpace(content)
	statusUpdate = strings.TrimSpace(statusUpdate)
	if content == "" && statusUpdate == "" {
		errs.Add("content", "Message content is required")
	} else if utf8.RuneCountInString(content) > maxContentLength {
		errs.Add("content", "Message is too long")
	}
	if utf8.RuneCountInString(statusUpdate) > maxStatusLength {
		errs.Add("status_update", "Status update is too long")
	}

	switch {
	case appType == "" && appID == 0:
	case appType == "":
		errs.Add("application_type", "Application type is required with application_id")
	case appType != "inscription" && appType != "work_permit" && appType != "residence":
		errs.Add("application_type", "Application type must be inscription, work_permit, or residence")
	case appID <= 0:
		errs.Add("application_id", "Application ID must be a positive number")
	}

	return errs
}

func validateEmail(email string, errs ValidationErrors) {
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}
}

func validatePassword(password string, errs ValidationErrors) {
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
		return
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	missing := []string{}
	if !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "one number")
	}

	if len(missing) > 0 {
		errs.Add("password", fmt.Sprintf("Password must contain at least %s", strings.Join(missing, ", ")))
	}
}
