package scrape

import "github.com/evsys/tikrank/video"

// OutcomeKind classifies an extraction attempt. This replaces throwing a
// sentinel error string up the stack: callers branch on the tag, never on
// error message contents.
type OutcomeKind int

const (
	// Completed means records were extracted. The count may fall short of
	// the target; the sweep's shortfall pass handles that.
	Completed OutcomeKind = iota
	// Retryable means the attempt failed transiently — a navigation
	// timeout, or a CAPTCHA that a human has since resolved — and exactly
	// one re-run is worthwhile.
	Retryable
	// Fatal means this keyword cannot be extracted right now. The sweep
	// records the failure and moves on.
	Fatal
)

// String returns the lowercase tag name.
func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Result is the outcome of one extraction attempt.
type Result struct {
	Kind    OutcomeKind
	Records []video.Record
	Err     error
}

func completed(records []video.Record) Result {
	return Result{Kind: Completed, Records: records}
}

func retryable(err error) Result {
	return Result{Kind: Retryable, Err: err}
}

func fatal(err error) Result {
	return Result{Kind: Fatal, Err: err}
}
