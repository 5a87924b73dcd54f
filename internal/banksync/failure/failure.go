// Package failure is the error vocabulary shared by the session engine, the response
// classifier and the export normalizer.
package failure

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationFailed
	KindChallengeTimeout
	KindChallengeUnexpectedStatus
	KindNavigationFailed
	KindExportBlocked
	KindDownloadLinkMissing
	KindUpstreamHTTPError
	KindScopeInvalid
	KindMalformedPayload
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindChallengeTimeout:
		return "ChallengeTimeout"
	case KindChallengeUnexpectedStatus:
		return "ChallengeUnexpectedStatus"
	case KindNavigationFailed:
		return "NavigationFailed"
	case KindExportBlocked:
		return "ExportBlocked"
	case KindDownloadLinkMissing:
		return "DownloadLinkMissing"
	case KindUpstreamHTTPError:
		return "UpstreamHTTPError"
	case KindScopeInvalid:
		return "ScopeInvalid"
	case KindMalformedPayload:
		return "MalformedPayload"
	}
	return "Unknown"
}

// Reasons attached to failures, they are the same tags the classifier emits.
const (
	ReasonUnknown           = "unknown"
	ReasonLocked            = "locked"
	ReasonManualTanRequired = "manual_tan_required"
	ReasonTimeout           = "timeout"
	ReasonUnexpectedStatus  = "unexpected_status"
	ReasonNoDownloadLink    = "no_download_link"
	ReasonUpstreamHTTP      = "upstream_http"
	ReasonFormNotFound      = "form_not_found"
	ReasonFieldMissing      = "required_field_missing"
)

// Error is a classified failure of a run.
type Error struct {
	Kind   Kind
	Reason string
	// Message is human readable text supplied by the bank, if any could be extracted.
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		fmt.Fprintf(&b, "(%s)", e.Reason)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, and by reason if the target carries one. This lets
// callers write errors.Is(err, failure.ErrAuthenticationFailed).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrAuthenticationFailed      = &Error{Kind: KindAuthenticationFailed}
	ErrChallengeTimeout          = &Error{Kind: KindChallengeTimeout}
	ErrChallengeUnexpectedStatus = &Error{Kind: KindChallengeUnexpectedStatus}
	ErrNavigationFailed          = &Error{Kind: KindNavigationFailed}
	ErrExportBlocked             = &Error{Kind: KindExportBlocked}
	ErrDownloadLinkMissing       = &Error{Kind: KindDownloadLinkMissing}
	ErrUpstreamHTTPError         = &Error{Kind: KindUpstreamHTTPError}
	ErrScopeInvalid              = &Error{Kind: KindScopeInvalid}
	ErrMalformedPayload          = &Error{Kind: KindMalformedPayload}
)

func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
