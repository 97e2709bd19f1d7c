package gateway

import "fmt"

// FailureKind classifies why a fetch did not produce a usable value.
type FailureKind string

const (
	FailureNetwork FailureKind = "network" // request could not be sent/received
	FailureHTTP    FailureKind = "http"    // non-2xx status
	FailureParse   FailureKind = "parse"   // bad content type or malformed body
	FailureTimeout FailureKind = "timeout" // per-feed deadline exceeded
	FailureAbort   FailureKind = "abort"   // intentional cancellation, benign
)

// Failure is a fetch failure as a value. It never unwinds past the gateway;
// callers keep showing the last good cached value instead.
type Failure struct {
	Kind   FailureKind
	Feed   string
	Status int // set for FailureHTTP
	Err    error
}

func (f *Failure) Error() string {
	if f.Kind == FailureHTTP {
		return fmt.Sprintf("fetch %s: http status %d", f.Feed, f.Status)
	}
	if f.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", f.Feed, f.Kind, f.Err)
	}
	return fmt.Sprintf("fetch %s: %s", f.Feed, f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Benign reports whether this failure is an expected outcome that should
// never reach a user-visible error path.
func (f *Failure) Benign() bool {
	return f.Kind == FailureAbort
}
