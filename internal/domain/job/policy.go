package job

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// FailureClass is the closed set of retry classifications. The class is
// decided once, at the first failure, and persisted onto the job; later
// failures of a different class do not change the budget.
type FailureClass int

const (
	// ClassServer covers 5xx-equivalent and unknown failures. It is the
	// default classification.
	ClassServer FailureClass = iota
	// ClassClient covers 4xx-equivalent failures that will not self-resolve.
	ClassClient
	// ClassNetwork covers transient connectivity failures.
	ClassNetwork
)

func (c FailureClass) String() string {
	switch c {
	case ClassClient:
		return "client"
	case ClassNetwork:
		return "network"
	default:
		return "server"
	}
}

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy is an immutable (attempt budget, delay schedule) pair.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffKind
	Base        time.Duration
}

var policies = map[FailureClass]RetryPolicy{
	ClassClient:  {MaxAttempts: 2, Backoff: BackoffFixed, Base: 5 * time.Second},
	ClassNetwork: {MaxAttempts: 8, Backoff: BackoffExponential, Base: 1 * time.Second},
	ClassServer:  {MaxAttempts: 5, Backoff: BackoffExponential, Base: 2 * time.Second},
}

// PolicyFor returns the retry policy for a failure class. Unknown values
// fall back to the server policy.
func PolicyFor(c FailureClass) RetryPolicy {
	if p, ok := policies[c]; ok {
		return p
	}
	return policies[ClassServer]
}

// DefaultPolicy is the policy applied to fresh enqueues and dead-letter
// replays, before any failure has been observed.
func DefaultPolicy() RetryPolicy {
	return policies[ClassServer]
}

// Delay returns the wait before the given retry. attempt is 1-based: the
// delay after the first failure is Delay(1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case BackoffFixed:
		return p.Base
	default:
		return p.Base << (attempt - 1)
	}
}

// RemoteError is a non-2xx response from an upstream or downstream API.
type RemoteError struct {
	Service string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s api: status %d: %s", e.Service, e.Status, e.Message)
}

// PermanentError marks a failure that retries cannot fix, such as a mapping
// strategy refusing a record.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Classify treats it as a client-class failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Classify maps an error to its failure class. Remote 4xx and permanent
// errors are client-class, connectivity problems are network-class, and
// everything else defaults to server-class.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassServer
	}

	var re *RemoteError
	if errors.As(err, &re) {
		if re.Status >= 400 && re.Status < 500 {
			return ClassClient
		}
		return ClassServer
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassClient
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ClassNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	return ClassServer
}
