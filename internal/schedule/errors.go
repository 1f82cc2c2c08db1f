package schedule

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by the task store when a conditional write lost a
// race: the expected prior status no longer matched. Callers re-read current
// state and retry the specific task; it is never a whole-campaign failure.
var ErrConflict = errors.New("conditional write conflict")

// ConfigurationError marks a campaign whose policy or structure cannot
// produce a valid schedule. Fatal for the affected campaign; no partial
// schedule is committed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IdempotencyViolation records an invariant breach found in persisted state,
// e.g. more than one live task for a (campaign, recipient, step) key. It is
// a defect signal: the reconciler self-heals by collapsing to the most
// authoritative record instead of crashing.
type IdempotencyViolation struct {
	Key   TaskKey
	Count int
}

func (e *IdempotencyViolation) Error() string {
	return fmt.Sprintf("idempotency violation: %d live tasks for campaign=%s recipient=%s step=%d",
		e.Count, e.Key.CampaignID, e.Key.RecipientID, e.Key.StepIndex)
}

// DownstreamError wraps a store or provider failure. The whole invocation
// aborts without partial writes and the external driver retries it.
type DownstreamError struct {
	Op  string
	Err error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream %s failed: %v", e.Op, e.Err)
}

func (e *DownstreamError) Unwrap() error {
	return e.Err
}

func downstream(op string, err error) error {
	return &DownstreamError{Op: op, Err: err}
}
