package ingest

import (
	"fmt"
	"strings"
	"sync"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// ErrorPolicy determines how row-level parse errors are handled.
type ErrorPolicy int

const (
	// PolicySkip keeps the row with the bad field nulled and continues.
	PolicySkip ErrorPolicy = iota
	// PolicyStrict aborts on the first bad row.
	PolicyStrict
)

func (p ErrorPolicy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses a config value into an ErrorPolicy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return PolicySkip, nil
	case "strict":
		return PolicyStrict, nil
	default:
		return PolicySkip, tferrors.Newf(tferrors.CodeConfig, "unknown error policy %q", s)
	}
}

// ErrorType categorizes row-level errors.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeMalformedRow
	ErrorTypeMissingValue
	ErrorTypeInvalidNumber
	ErrorTypeInvalidTimestamp
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeMalformedRow:
		return "malformed_row"
	case ErrorTypeMissingValue:
		return "missing_value"
	case ErrorTypeInvalidNumber:
		return "invalid_number"
	case ErrorTypeInvalidTimestamp:
		return "invalid_timestamp"
	default:
		return "unknown"
	}
}

// ErrorRecord is a single row-level error with context.
type ErrorRecord struct {
	// Row is the 1-based data row number (header excluded).
	Row        int64     `json:"row"`
	Column     string    `json:"column,omitempty"`
	Value      string    `json:"value,omitempty"`
	Type       ErrorType `json:"-"`
	Message    string    `json:"message"`
	SourceFile string    `json:"source_file"`
}

func (r ErrorRecord) String() string {
	if r.Column == "" {
		return fmt.Sprintf("row %d: %s", r.Row, r.Message)
	}
	return fmt.Sprintf("row %d, column %s: %s (%q)", r.Row, r.Column, r.Message, r.Value)
}

// ErrorHandler applies an ErrorPolicy and keeps a bounded list of errors.
type ErrorHandler struct {
	mu sync.Mutex

	policy     ErrorPolicy
	errorCount int64
	errors     []ErrorRecord
	maxStored  int

	onError func(ErrorRecord)
}

// NewErrorHandler creates a handler for policy.
func NewErrorHandler(policy ErrorPolicy) *ErrorHandler {
	return &ErrorHandler{
		policy:    policy,
		maxStored: 100,
	}
}

// WithOnError sets a callback invoked for every error.
func (h *ErrorHandler) WithOnError(fn func(ErrorRecord)) *ErrorHandler {
	h.onError = fn
	return h
}

// Handle records rec and returns a PARSE error when the policy says the
// read must stop.
func (h *ErrorHandler) Handle(rec ErrorRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errorCount++
	if len(h.errors) < h.maxStored {
		h.errors = append(h.errors, rec)
	}
	if h.onError != nil {
		h.onError(rec)
	}

	if h.policy == PolicyStrict {
		e := tferrors.ParseError(rec.SourceFile, rec.Row, fmt.Errorf("%s", rec.Message))
		if rec.Column != "" {
			e.WithContext("column", rec.Column).WithContext("value", rec.Value)
		}
		return e
	}
	return nil
}

// ErrorCount returns the number of errors handled.
func (h *ErrorHandler) ErrorCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errorCount
}

// Errors returns the stored errors.
func (h *ErrorHandler) Errors() []ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ErrorRecord, len(h.errors))
	copy(out, h.errors)
	return out
}
