package age

import (
	"errors"
	"fmt"
)

var (
	// ErrToolMissing matches every OperationError of KindToolMissing.
	ErrToolMissing = errors.New("age: encryption engine is not available")

	// ErrOperationFailed matches every OperationError of KindFailed.
	ErrOperationFailed = errors.New("age: operation failed")

	// ErrUnparsableOutput indicates age-keygen ran but printed no usable key.
	ErrUnparsableOutput = errors.New("age: could not find key material in age-keygen output")

	ErrInvalidIdentity = errors.New("age: identity must be an age key (AGE-SECRET-KEY-...), an SSH key (-----BEGIN... or ssh-...), or an identity file")
	ErrNoRecipients    = errors.New("age: at least one recipient is required")
	ErrInvalidArgument = errors.New("age: invalid argument")
)

// Kind classifies a failed engine invocation.
type Kind int

const (
	// KindToolMissing means the engine binary could not be found or started.
	KindToolMissing Kind = iota + 1
	// KindFailed means the engine ran and failed, or its output was unusable.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindToolMissing:
		return "tool missing"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OperationError is returned for every failed engine invocation.
// Stderr is diagnostic text for the user and is never inspected.
type OperationError struct {
	Op     string // generate, encrypt, decrypt, recipient, version
	Kind   Kind
	Stderr string
	Err    error

	// Provision is set when an install attempt was made and failed.
	Provision error
}

func (e *OperationError) Error() string {
	var msg string
	switch e.Kind {
	case KindToolMissing:
		msg = fmt.Sprintf("age %s: encryption engine is not available: %v", e.Op, e.Err)
	default:
		msg = fmt.Sprintf("age %s failed: %v", e.Op, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Provision != nil {
		msg += fmt.Sprintf(" (install attempt failed: %v)", e.Provision)
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrToolMissing and ErrOperationFailed by kind.
func (e *OperationError) Is(target error) bool {
	switch target {
	case ErrToolMissing:
		return e.Kind == KindToolMissing
	case ErrOperationFailed:
		return e.Kind == KindFailed
	}
	return false
}
