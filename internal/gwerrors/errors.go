// Package gwerrors defines the gateway's error taxonomy. The source this
// design is distilled from carried two incompatible declarations of its
// error type across files; this package picks one canonical shape
// (Kind + Reason + optional EBICS codes) and uses it everywhere in the core.
package gwerrors

import "fmt"

// Kind classifies a gateway error for propagation and HTTP-status mapping.
type Kind string

const (
	KindBadRequest  Kind = "bad_request"
	KindNotFound    Kind = "not_found"
	KindProtocol    Kind = "protocol_error"
	KindCrypto      Kind = "crypto_error"
	KindParse       Kind = "parse_error"
	KindState       Kind = "state_error"
	KindTransport   Kind = "transport_error"
	KindInternal    Kind = "internal_error"
)

// GatewayError is the canonical error shape used across the core. Transport
// and protocol errors carry enough context to decide retry behaviour; all
// others are terminal for the operation that produced them.
type GatewayError struct {
	Kind          Kind
	Reason        string
	TechnicalCode string // EBICS transport-level return code, e.g. "000000".
	BusinessCode  string // EBICS business-level return code, e.g. "090003".
	Err           error
}

func (e *GatewayError) Error() string {
	if e.TechnicalCode != "" || e.BusinessCode != "" {
		return fmt.Sprintf("%s: %s (technical=%s business=%s)", e.Kind, e.Reason, e.TechnicalCode, e.BusinessCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func New(kind Kind, reason string) *GatewayError {
	return &GatewayError{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Reason: reason, Err: err}
}

// Protocol builds a KindProtocol error carrying both EBICS return codes.
func Protocol(technicalCode, businessCode, reason string) *GatewayError {
	return &GatewayError{
		Kind:          KindProtocol,
		Reason:        reason,
		TechnicalCode: technicalCode,
		BusinessCode:  businessCode,
	}
}

// Retryable reports whether the scheduler should retry the operation that
// produced this error on the next tick. Transient transport failures and
// 06xxxx EBICS transport errors are retryable; everything else is terminal.
func Retryable(err error) bool {
	ge, ok := err.(*GatewayError)
	if !ok {
		return false
	}
	switch ge.Kind {
	case KindTransport:
		return true
	case KindProtocol:
		return (len(ge.TechnicalCode) == 6 && ge.TechnicalCode[:2] == "06") ||
			(len(ge.BusinessCode) == 6 && ge.BusinessCode[:2] == "06")
	default:
		return false
	}
}

// Fatal reports whether the error should mark the underlying prepared
// payment or fetch as permanently invalid rather than retried.
func Fatal(err error) bool {
	ge, ok := err.(*GatewayError)
	if !ok {
		return false
	}
	if ge.Kind != KindProtocol {
		return false
	}
	switch ge.BusinessCode {
	case CodeAccountAuthorisationFailed, CodeProcessingError:
		return true
	}
	return len(ge.BusinessCode) == 6 && ge.BusinessCode[:2] == "09" && ge.BusinessCode != CodeNoDownloadData
}

// EBICS return codes referenced by the protocol engine and payment lifecycle.
const (
	CodeOK                         = "000000"
	CodeNoDownloadData             = "090005"
	CodeAccountAuthorisationFailed = "090003"
	CodeProcessingError            = "091010"
)
