package app

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fieldErrors accumulates per-field validation messages; the HTTP
// envelope carries them under error.details.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", f)
}

var (
	taskStatuses   = map[string]bool{"TODO": true, "IN_PROGRESS": true, "IN_REVIEW": true, "DONE": true}
	taskPriorities = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true, "URGENT": true}

	colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

func validTaskStatus(value string) bool   { return taskStatuses[value] }
func validTaskPriority(value string) bool { return taskPriorities[value] }

func validAbsoluteURL(value string) bool {
	parsed, err := url.Parse(value)
	return err == nil && parsed.IsAbs() && parsed.Host != ""
}

// parseDueDate accepts RFC 3339 timestamps and bare dates.
func parseDueDate(value string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, true
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

func checkTaskTitle(errs fieldErrors, title string) {
	if title == "" {
		errs.add("title", "title is required")
	} else if len(title) > 100 {
		errs.add("title", "title must be at most 100 characters")
	}
}

func checkTaskDescription(errs fieldErrors, description string) {
	if len(description) > 500 {
		errs.add("description", "description must be at most 500 characters")
	}
}

func checkProjectName(errs fieldErrors, name string) {
	if name == "" {
		errs.add("name", "name is required")
	} else if len(name) > 50 {
		errs.add("name", "name must be at most 50 characters")
	}
}

func checkProjectDescription(errs fieldErrors, description string) {
	if len(description) > 200 {
		errs.add("description", "description must be at most 200 characters")
	}
}

func checkProjectColor(errs fieldErrors, color string) {
	if color != "" && !colorPattern.MatchString(color) {
		errs.add("color", "color must be a hex color like #3B82F6")
	}
}

func validateComment(content string) error {
	errs := fieldErrors{}
	if content == "" {
		errs.add("content", "content is required")
	} else if len(content) > 500 {
		errs.add("content", "content must be at most 500 characters")
	}
	return errs.err()
}

func validateMessage(content string) error {
	errs := fieldErrors{}
	if content == "" {
		errs.add("content", "content is required")
	} else if len(content) > 1000 {
		errs.add("content", "content must be at most 1000 characters")
	}
	return errs.err()
}

func validateRegister(name, email, password string) error {
	errs := fieldErrors{}
	if len(name) < 2 {
		errs.add("name", "name must be at least 2 characters")
	}
	if !emailPattern.MatchString(email) {
		errs.add("email", "email must be a valid address")
	}
	if len(password) < 6 {
		errs.add("password", "password must be at least 6 characters")
	}
	return errs.err()
}

func checkProfileName(errs fieldErrors, name string) {
	if len(name) < 2 {
		errs.add("name", "name must be at least 2 characters")
	} else if len(name) > 50 {
		errs.add("name", "name must be at most 50 characters")
	}
}

// pagination holds a clamped page/limit pair. Values outside [1,100] for
// limit and below 1 for page are clamped, not rejected.
type pagination struct {
	Page  int
	Limit int
}

func (p pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

func parsePagination(query url.Values) pagination {
	page := 1
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			page = parsed
		}
	}
	if page < 1 {
		page = 1
	}

	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	return pagination{Page: page, Limit: limit}
}

// Meta is the pagination block of list responses.
type Meta struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

func pageMeta(p pagination, returned, total int) Meta {
	return Meta{
		Total:   total,
		Page:    p.Page,
		Limit:   p.Limit,
		HasMore: p.Offset()+returned < total,
	}
}
