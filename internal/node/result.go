// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"time"

	"github.com/aix-network/aixd/errs"
)

// Status is the three-way outcome spec.md §6 requires every write operation
// return: "a structured result discriminating accepted / rejected{reason} /
// transient_error{retry_after}."
type Status int

const (
	StatusAccepted Status = iota
	StatusRejected
	StatusTransientError
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a boundary write operation.
type Result struct {
	Status      Status
	Reason      errs.Reason
	Description string
	RetryAfter  time.Duration
}

// Accepted returns a StatusAccepted Result.
func Accepted() Result {
	return Result{Status: StatusAccepted}
}

// defaultRetryAfter is used when classify maps an error to
// transient_error but has no more specific back-off to suggest, e.g. a
// Storage error at runtime (spec.md §7).
const defaultRetryAfter = 2 * time.Second

// classify maps an *errs.Error to the boundary contract's three-way Result,
// per spec.md §7's propagation policy:
//
//   - Validation, Consensus: reject the payload with its Reason.
//   - Resource: the caller must back off; surfaced as rejected (the reason
//     itself, e.g. MEMPOOL_FULL/RATE_LIMITED, already tells the caller to
//     slow down) rather than transient_error, since retrying the identical
//     payload won't help until the caller does something different.
//   - Network, Storage: transient at the call site; the caller may retry
//     the same payload later.
//   - State, Config: never expected to surface here. A State error halts
//     the writer entirely (see node.go's run loop) before a Result can be
//     built from it; Config errors are fatal at startup and never reach a
//     running boundary call.
func classify(err error) Result {
	if err == nil {
		return Accepted()
	}
	e, ok := err.(*errs.Error)
	if !ok {
		return Result{Status: StatusTransientError, Description: err.Error(), RetryAfter: defaultRetryAfter}
	}
	switch e.Kind {
	case errs.Validation, errs.Consensus, errs.Resource:
		return Result{Status: StatusRejected, Reason: e.Reason, Description: e.Description}
	case errs.Network, errs.Storage:
		return Result{Status: StatusTransientError, Reason: e.Reason, Description: e.Description, RetryAfter: defaultRetryAfter}
	default:
		return Result{Status: StatusTransientError, Reason: e.Reason, Description: e.Description, RetryAfter: defaultRetryAfter}
	}
}
