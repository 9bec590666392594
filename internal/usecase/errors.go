package usecase

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"

	"rag-portal/internal/assessment"
	"rag-portal/internal/db"
	"rag-portal/internal/geo"
	"rag-portal/internal/parser"
	"rag-portal/internal/rag"
)

type Code string

const (
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeUpstreamError Code = "UPSTREAM_ERROR"
	CodeInternalError Code = "INTERNAL_ERROR"
)

// Error carries a stable code for callers that render errors to users.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first Error in err's chain. Unclassified
// errors are internal.
func CodeOf(err error) Code {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return CodeInternalError
}

// Classify maps domain and storage errors to codes; whatever is left came
// from a remote service.
func Classify(reason string, err error) error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return err
	}
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return newError(CodeNotFound, reason, err)
	case errors.Is(err, assessment.ErrEmptyContent),
		errors.Is(err, assessment.ErrInvalidGender),
		errors.Is(err, rag.ErrEmptyQuestion),
		errors.Is(err, rag.ErrNoDocuments),
		errors.Is(err, parser.ErrUnsupportedFormat),
		errors.Is(err, geo.ErrOutOfBounds):
		return newError(CodeInvalidInput, reason, err)
	case errors.Is(err, parser.ErrLoad),
		errors.Is(err, db.ErrDatabase),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, sql.ErrTxDone),
		errors.Is(err, driver.ErrBadConn):
		return newError(CodeInternalError, reason, err)
	default:
		return newError(CodeUpstreamError, reason, err)
	}
}
