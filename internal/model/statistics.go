package model

import (
	"slices"

	clone "github.com/huandu/go-clone/generic"
	"github.com/samber/lo"
)

// Statistics counts events by category. The zero value is not usable;
// create one with NewStatistics.
type Statistics map[string]int64

const (
	unhandledPrefix = "unhandled:"
	skippedPrefix   = "skipped:"
)

// NewStatistics returns a Statistics whose given keys start at zero.
func NewStatistics(keys ...string) Statistics {
	s := make(Statistics, len(keys))
	for _, k := range keys {
		s[k] = 0
	}

	return s
}

// NewVerificationStatistics returns counters for every discrepancy kind.
func NewVerificationStatistics() Statistics {
	return NewStatistics(lo.Map(
		DiscrepancyKinds,
		func(k DiscrepancyKind, _ int) string { return string(k) },
	)...)
}

// OperationStatKey is the counter that an event of the given operation
// increments. Unknown kinds are grouped apart from recognized ones.
func OperationStatKey(op Operation) string {
	if u, isUnknown := op.(Unknown); isUnknown {
		return unhandledPrefix + u.Kind
	}

	return op.OperationKind()
}

// SkippedStatKey is the counter for skipped outcomes with the given reason.
func SkippedStatKey(reason Reason) string {
	return skippedPrefix + string(reason)
}

func (s Statistics) Add(key string, delta int64) {
	s[key] += delta
}

// Merge adds every counter of other into s.
func (s Statistics) Merge(other Statistics) {
	for k, v := range other {
		s[k] += v
	}
}

func (s Statistics) Clone() Statistics {
	return clone.Clone(s)
}

// Keys returns the counter names in sorted order.
func (s Statistics) Keys() []string {
	keys := lo.Keys(s)
	slices.Sort(keys)

	return keys
}
