package capture

import (
	"fmt"
	"time"
)

// ChallengeError reports a verification challenge that was not resolved
// within its deadline during capture.
type ChallengeError struct {
	URL     string
	Elapsed time.Duration
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("capture: challenge unresolved for %s after %s", e.URL, e.Elapsed.Round(time.Second))
}
