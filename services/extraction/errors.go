package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the single error taxonomy propagated across the core. Callers
// outside the core see only the final kind; intermediate errors stay in logs.
type Kind string

const (
	KindInvalidRequest           Kind = "invalid_request"
	KindUpstreamNotFound         Kind = "upstream_not_found"
	KindUpstreamRateLimited      Kind = "upstream_rate_limited"
	KindUpstreamServerError      Kind = "upstream_server_error"
	KindNetworkError             Kind = "network_error"
	KindProviderStructureChanged Kind = "provider_structure_changed"
	KindPlayButtonClickFailed    Kind = "play_button_click_failed"
	KindNoStreamURLFound         Kind = "no_stream_url_found"
	KindCancelled                Kind = "cancelled"
	KindNoFingerprintAvailable   Kind = "no_fingerprint_available"
	KindSubtitleFormatError      Kind = "subtitle_format_error"
)

// Retryable reports whether the controller may schedule another attempt for
// this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindUpstreamRateLimited, KindUpstreamServerError, KindNetworkError,
		KindProviderStructureChanged, KindPlayButtonClickFailed,
		KindNoStreamURLFound, KindNoFingerprintAvailable:
		return true
	}
	return false
}

// Message returns the single human-readable string shown to clients,
// optionally carrying a recovery suggestion. No stack traces leak here.
func (k Kind) Message() string {
	switch k {
	case KindInvalidRequest:
		return "invalid request parameters"
	case KindUpstreamNotFound:
		return "media not found on the provider"
	case KindUpstreamRateLimited:
		return "provider rate limit reached, try again in a minute"
	case KindUpstreamServerError:
		return "provider server error"
	case KindNetworkError:
		return "network error while reaching the provider"
	case KindProviderStructureChanged:
		return "provider page structure changed"
	case KindPlayButtonClickFailed:
		return "could not activate the provider player"
	case KindNoStreamURLFound:
		return "no stream found, try switching to the alternate server"
	case KindCancelled:
		return "request cancelled"
	case KindNoFingerprintAvailable:
		return "extraction capacity exhausted, try again shortly"
	case KindSubtitleFormatError:
		return "subtitle file could not be converted"
	}
	return "extraction failed"
}

// Error wraps a Kind with the underlying cause for logging.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error from a kind and an optional cause.
func E(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, classifying plain transport errors when
// no *Error is present in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Kind
	}
	return Classify(err)
}

// Classify maps a raw error onto the taxonomy. Cancellation wins over every
// other interpretation; timeouts and DNS/connection failures are network
// errors; anything mentioning a rate limit is treated as rate limiting.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetworkError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return KindUpstreamRateLimited
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"):
		return KindNetworkError
	}
	return KindUpstreamServerError
}

// ClassifyStatus maps an upstream HTTP status onto the taxonomy.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 404:
		return KindUpstreamNotFound
	case status == 429:
		return KindUpstreamRateLimited
	case status >= 500:
		return KindUpstreamServerError
	case status >= 400:
		return KindUpstreamNotFound
	}
	return ""
}
