// Package errs implements the error-kind table of spec §7: one typed Kind
// per domain outcome, mapped to both the sync wire protocol's response code
// (§6.1) and the admin HTTP surface's status code (§6.2).
package errs

import "net/http"

// Kind is a language-neutral domain error outcome (spec §7).
type Kind int

const (
	// Internal is the zero value so a zero-valued Error never silently
	// claims to be a specific, more lenient kind.
	Internal Kind = iota
	AuthenticationFailed
	NotEnoughRights
	NotExists
	AlreadyExists
	InvalidSchema
	DataValidation
	OperationNotAllowed
	SchemaDefinition
	TransmissionError
)

// WireCode is the sync protocol response code for k (spec §6.1 table).
func (k Kind) WireCode() byte {
	switch k {
	case AuthenticationFailed:
		return 100
	case NotEnoughRights:
		return 110
	case NotExists:
		return 99
	case InvalidSchema:
		return 120
	case TransmissionError:
		return 1
	default:
		return 255
	}
}

// HTTPStatus is the admin-surface HTTP status for k (spec §6.2/§7).
func (k Kind) HTTPStatus() int {
	switch k {
	case AuthenticationFailed:
		return http.StatusForbidden
	case NotEnoughRights:
		return http.StatusForbidden
	case NotExists:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case InvalidSchema:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case AuthenticationFailed:
		return "AuthenticationFailed"
	case NotEnoughRights:
		return "NotEnoughRights"
	case NotExists:
		return "NotExists"
	case AlreadyExists:
		return "AlreadyExists"
	case InvalidSchema:
		return "InvalidSchema"
	case DataValidation:
		return "DataValidation"
	case OperationNotAllowed:
		return "OperationNotAllowed"
	case SchemaDefinition:
		return "SchemaDefinition"
	case TransmissionError:
		return "TransmissionError"
	default:
		return "Internal"
	}
}

// Error pairs a Kind with a human-readable message, implementing the error
// interface so callers can use errors.As to recover the Kind at the surface
// boundary (wire reply, admin JSON response) without every intermediate
// layer needing to know about wire codes or HTTP statuses.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// New constructs an *Error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// FromValidationCode maps a validator/apply ValidationCode (spec §4.3 table)
// to the error Kind reported for it, for call sites that bridge from
// validator.Code to the wire/HTTP error kinds. Codes with no Kind of their
// own map to Internal.
func FromValidationCode(code int) Kind {
	switch code {
	case 120:
		return DataValidation
	case 130:
		return OperationNotAllowed
	case 140:
		return SchemaDefinition
	case 150:
		return DataValidation
	default:
		return Internal
	}
}
