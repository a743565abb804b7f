package infra

import "time"

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns the exponential reconnect delay for the given
// retry count, capped at backoffMax.
func CalculateBackoff(retry int) time.Duration {
	if retry <= 0 {
		return backoffBase
	}
	delay := backoffBase << uint(retry)
	if delay > backoffMax || delay <= 0 {
		return backoffMax
	}
	return delay
}
