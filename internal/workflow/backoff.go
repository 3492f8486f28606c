package workflow

import "time"

const (
	backoffBaseSeconds = 30
	backoffCapSeconds  = 900
	backoffMaxShift    = 5
)

// Backoff returns the delay before the next run after the given attempt
// number (1-based). The schedule doubles from 30s and caps at 15 minutes:
// 30, 60, 120, 240, 480, then 900 for every further attempt.
func Backoff(attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > backoffMaxShift {
		shift = backoffMaxShift
	}
	secs := backoffBaseSeconds << shift
	if secs > backoffCapSeconds {
		secs = backoffCapSeconds
	}
	return time.Duration(secs) * time.Second
}
