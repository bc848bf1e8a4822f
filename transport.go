package inbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rbaliyan/inbox/store"
)

// Transport talks to the remote inbox service.
// The api package provides an HTTP implementation.
type Transport interface {
	// FetchMessages performs a conditional list fetch. An empty watermark
	// requests the full list.
	FetchMessages(ctx context.Context, watermark string) (*FetchResult, error)
	// PostMarkRead reports messages as read.
	PostMarkRead(ctx context.Context, msgs []store.Message) error
	// PostDelete reports messages as deleted.
	PostDelete(ctx context.Context, msgs []store.Message) error
}

// FetchResult is the outcome of a successful list fetch.
type FetchResult struct {
	// NotModified is set when the server list has not changed since the
	// watermark. Messages and Watermark are empty in that case.
	NotModified bool
	// Messages is the authoritative server list. The local read flags are
	// initialized from the server flag.
	Messages []store.Message
	// Watermark is the value to send with the next fetch.
	Watermark string
}

// StatusError reports an unexpected HTTP status from the remote service.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inbox: %s: unexpected status %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Verdict is the outcome of a sync cycle as seen by a job scheduler.
type Verdict int

const (
	// VerdictSuccess means the cycle completed.
	VerdictSuccess Verdict = iota
	// VerdictRetry means a transient failure; retry with backoff.
	VerdictRetry
	// VerdictTerminal means the cycle failed in a way that retrying the
	// same request will not fix. The next scheduled cycle still runs.
	VerdictTerminal
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictRetry:
		return "retry"
	case VerdictTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// ClassifyError maps a transport or storage error to a verdict.
//
// Client errors and malformed payloads are terminal. Server errors, request
// timeouts, rate limiting, network failures and storage failures are
// transient.
func ClassifyError(err error) Verdict {
	if err == nil {
		return VerdictSuccess
	}
	if errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrTransportRequired) {
		return VerdictTerminal
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Retryable() {
			return VerdictRetry
		}
		return VerdictTerminal
	}
	return VerdictRetry
}
