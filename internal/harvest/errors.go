package harvest

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind tells callers whether a fetch failure is worth retrying.
type ErrorKind int

// Fetch failure kinds. The zero value means the error carries no kind.
const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Sentinel errors matched with errors.Is.
var (
	ErrFetchExhausted  = errors.New("fetch exhausted")
	ErrStore           = errors.New("store failure")
	ErrDiscovery       = errors.New("discovery failure")
	ErrFragmentMissing = errors.New("fragment missing from document")
	ErrEmptyFragment   = errors.New("fragment is empty")
	ErrInvalidRule     = errors.New("invalid extraction rule")
)

// FetchError is a classified failure of a single attempt.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Rule Rule
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch error for %s (%s): %v", e.Kind, e.URL, e.Rule, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(url string, rule Rule, err error) error {
	return &FetchError{Kind: KindTransient, URL: url, Rule: rule, Err: err}
}

// Permanent wraps err as a failure that must abort the job.
func Permanent(url string, rule Rule, err error) error {
	return &FetchError{Kind: KindPermanent, URL: url, Rule: rule, Err: err}
}

// KindOf returns the kind of the outermost FetchError in err's chain.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// StatusError reports a non-success HTTP status from the remote source.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout,
		e.Code == http.StatusTooEarly,
		e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 500:
		return true
	default:
		return false
	}
}

// ExhaustedError is returned once every attempt failed transiently.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch exhausted after %d attempts for %s: %v", e.Attempts, e.URL, e.Last)
}

// Is matches ErrFetchExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrFetchExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// StoreError reports that an artifact could not be persisted.
type StoreError struct {
	Artifact string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store artifact %s: %v", e.Artifact, e.Err)
}

// Is matches ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// DiscoveryError reports a navigation fragment without usable links.
type DiscoveryError struct {
	Period int
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover links for period %d: %s", e.Period, e.Reason)
}

// Is matches ErrDiscovery.
func (e *DiscoveryError) Is(target error) bool {
	return target == ErrDiscovery
}
