package faults

import "errors"

// Kind classifies a pipeline failure for propagation and retry decisions.
type Kind string

const (
	KindIO                 Kind = "io"
	KindStore              Kind = "store"
	KindNetwork            Kind = "network"
	KindRateLimit          Kind = "rate_limit"
	KindUnavailable        Kind = "unavailable"
	KindUnsupported        Kind = "unsupported"
	KindCorrupt            Kind = "corrupt"
	KindMalformed          Kind = "malformed"
	KindPlanningIncomplete Kind = "planning_incomplete"
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindCancelled          Kind = "cancelled"
	KindFatal              Kind = "fatal"
)

// Sentinel domain errors. They should always be wrapped with contextual
// information at the call site (fmt.Errorf("...: %w", faults.ErrIO)).
var (
	ErrIO                 = errors.New("driveorg: io error")
	ErrStore              = errors.New("driveorg: store error")
	ErrNetwork            = errors.New("driveorg: network error")
	ErrRateLimit          = errors.New("driveorg: rate limited")
	ErrUnavailable        = errors.New("driveorg: downstream unavailable")
	ErrUnsupported        = errors.New("driveorg: unsupported content")
	ErrCorrupt            = errors.New("driveorg: corrupt content")
	ErrMalformed          = errors.New("driveorg: malformed response")
	ErrPlanningIncomplete = errors.New("driveorg: planning incomplete")
	ErrValidation         = errors.New("driveorg: plan validation failed")
	ErrConflict           = errors.New("driveorg: target path conflict")
	ErrCancelled          = errors.New("driveorg: cancelled")
	ErrFatal              = errors.New("driveorg: invariant breach")
)

var sentinels = map[Kind]error{
	KindIO:                 ErrIO,
	KindStore:              ErrStore,
	KindNetwork:            ErrNetwork,
	KindRateLimit:          ErrRateLimit,
	KindUnavailable:        ErrUnavailable,
	KindUnsupported:        ErrUnsupported,
	KindCorrupt:            ErrCorrupt,
	KindMalformed:          ErrMalformed,
	KindPlanningIncomplete: ErrPlanningIncomplete,
	KindValidation:         ErrValidation,
	KindConflict:           ErrConflict,
	KindCancelled:          ErrCancelled,
	KindFatal:              ErrFatal,
}

// KindOf returns the Kind of err, or an empty Kind when err carries no
// domain sentinel in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// IsTransient reports whether err should be retried with backoff.
// Transient kinds are network, rate_limit and unavailable; everything else
// (including unclassified errors) is treated as terminal.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimit, KindUnavailable:
		return true
	default:
		return false
	}
}

// IsTerminalForJob reports whether err must stop the whole job rather than
// the current item or group.
func IsTerminalForJob(err error) bool {
	switch KindOf(err) {
	case KindStore, KindFatal, KindCancelled:
		return true
	default:
		return false
	}
}
