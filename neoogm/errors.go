package neoogm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Financial-Times/neo-ogm-go/version"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var (
	ErrInvalidURL            = errors.New("inappropriate url")
	ErrNotConnected          = errors.New("not connected to the graph database")
	ErrNoMergeKey            = errors.New("model declares no unique or required property to merge on")
	ErrAnchorNotFound        = errors.New("relationship anchor node not found")
	ErrUnsupportedVersion    = errors.New("database version not supported")
	ErrRequired              = errors.New("required property missing")
	ErrUnknownProperty       = errors.New("property not declared on model")
	ErrUnsupportedDescriptor = errors.New("constraint or index kind cannot be expressed in this dialect")
)

// FormatError is returned for malformed version tags.
type FormatError = version.FormatError

// ValidationError reports a record that failed to validate or coerce against its model before
// anything was written.
type ValidationError struct {
	Model    string
	Property string
	Value    any
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %#v for %s.%s: %v", e.Value, e.Model, e.Property, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UniquenessViolation is returned when a write collides with a uniqueness constraint. Nothing
// from the offending statement is persisted.
type UniquenessViolation struct {
	Label    string
	Property string
	Msg      string
	Err      error
}

func (e *UniquenessViolation) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("uniqueness violation: %s", e.Msg)
	}
	return fmt.Sprintf("uniqueness violation on %s.%s: %s", e.Label, e.Property, e.Msg)
}

func (e *UniquenessViolation) Unwrap() error {
	return e.Err
}

// ConstraintViolationError is returned when a write breaks a constraint other than uniqueness,
// for instance an existence constraint.
type ConstraintViolationError struct {
	Msg string
	Err error
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation: %s", e.Msg)
}

func (e *ConstraintViolationError) Unwrap() error {
	return e.Err
}

// FeatureNotSupportedError is returned when a model asks for schema the connected server cannot
// provide.
type FeatureNotSupportedError struct {
	Feature string
	Server  DatabaseIdentity
}

func (e *FeatureNotSupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by %s %s (%s)", e.Feature, e.Server.Flavour, e.Server.Version, e.Server.Edition)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsUniquenessViolation reports whether err is or wraps a UniquenessViolation.
func IsUniquenessViolation(err error) bool {
	var e *UniquenessViolation
	return errors.As(err, &e)
}

const (
	codeConstraintValidationFailed = "Neo.ClientError.Schema.ConstraintValidationFailed"
	clientErrorPrefix              = "Neo.ClientError."
	memgraphClientErrorPrefix      = "Memgraph.ClientError."
)

var (
	neo4jUniqueMessage    = regexp.MustCompile("label `([^`]+)` and propert(?:y|ies) `([^`]+)`")
	neo4jRelUniqueMessage = regexp.MustCompile("relationship type `([^`]+)` and propert(?:y|ies) `([^`]+)`")
	memgraphUniqueMessage = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)\(([A-Za-z_][A-Za-z0-9_]*)`)
)

// backendError extracts the status code and message the server attached to err.
func backendError(err error) (code, msg string, ok bool) {
	var boltErr *neo4j.Neo4jError
	if errors.As(err, &boltErr) {
		return boltErr.Code, boltErr.Msg, true
	}
	var httpErr *NeoError
	if errors.As(err, &httpErr) {
		return httpErr.Code, httpErr.Message, true
	}
	return "", "", false
}

// isClientError reports whether err was a well-formed response from a healthy server, meaning
// the connection itself does not need replacing.
func isClientError(err error) bool {
	var (
		validation *ValidationError
		uniqueness *UniquenessViolation
		constraint *ConstraintViolationError
	)
	if errors.As(err, &validation) || errors.As(err, &uniqueness) || errors.As(err, &constraint) {
		return true
	}

	code, _, ok := backendError(err)
	return ok && (strings.HasPrefix(code, clientErrorPrefix) || strings.HasPrefix(code, memgraphClientErrorPrefix))
}

// classifyWriteError turns constraint failures reported by the server into the typed taxonomy.
// Anything else is returned untouched.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}

	code, msg, ok := backendError(err)
	if !ok {
		return err
	}

	if code == codeConstraintValidationFailed {
		if strings.Contains(msg, "already exists with") {
			violation := &UniquenessViolation{Msg: msg, Err: err}
			if m := neo4jUniqueMessage.FindStringSubmatch(msg); m != nil {
				violation.Label, violation.Property = m[1], m[2]
			} else if m := neo4jRelUniqueMessage.FindStringSubmatch(msg); m != nil {
				violation.Label, violation.Property = m[1], m[2]
			}
			return violation
		}
		return &ConstraintViolationError{Msg: msg, Err: err}
	}

	lower := strings.ToLower(msg)
	if strings.HasPrefix(code, "Memgraph.") || code == "" {
		switch {
		case strings.Contains(lower, "unique constraint violation"):
			violation := &UniquenessViolation{Msg: msg, Err: err}
			if m := memgraphUniqueMessage.FindStringSubmatch(msg); m != nil {
				violation.Label, violation.Property = m[1], m[2]
			}
			return violation
		case strings.Contains(lower, "constraint violation"):
			return &ConstraintViolationError{Msg: msg, Err: err}
		}
	}
	return err
}
