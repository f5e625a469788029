package pipeline

// Code tags a stage result. A stage signals early termination only through
// its result, never through a side channel, so no intermediate stage can
// swallow the signal.
type Code int

const (
	// CodeContinue advances to the next stage; a pipeline exhausting its
	// stages with Continue is disposed as success.
	CodeContinue Code = iota

	// CodeHold parks the message for moderator review.
	CodeHold

	// CodeDiscard drops the message permanently, with no notice to anyone.
	CodeDiscard

	// CodeReject drops the message and sends an explanatory bounce to the
	// original sender.
	CodeReject

	// CodePartial reports per-recipient delivery outcomes: transient
	// failures are retried, permanent failures logged.
	CodePartial

	// CodeRetry reports a transient stage failure (backend hiccup, lock
	// timeout); the runner requeues the whole item.
	CodeRetry
)

func (c Code) String() string {
	switch c {
	case CodeContinue:
		return "continue"
	case CodeHold:
		return "hold"
	case CodeDiscard:
		return "discard"
	case CodeReject:
		return "reject"
	case CodePartial:
		return "partial-failure"
	case CodeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Result is the tagged variant every stage returns.
type Result struct {
	Code   Code
	Reason string // hold/discard/retry reason, for logs and moderator queues
	Notice string // reject notice sent back to the sender

	// TempFailures and PermFailures carry per-recipient outcomes for
	// CodePartial.
	TempFailures []string
	PermFailures []string
}

// Continue advances the pipeline.
func Continue() Result { return Result{Code: CodeContinue} }

// Hold parks the message with a reason for the moderator.
func Hold(reason string) Result { return Result{Code: CodeHold, Reason: reason} }

// Discard drops the message silently.
func Discard(reason string) Result { return Result{Code: CodeDiscard, Reason: reason} }

// Reject drops the message and bounces notice back to the sender.
func Reject(notice string) Result { return Result{Code: CodeReject, Notice: notice} }

// Partial reports per-recipient delivery outcomes.
func Partial(temp, perm []string) Result {
	return Result{Code: CodePartial, TempFailures: temp, PermFailures: perm}
}

// Retry reports a transient failure; the runner requeues the item.
func Retry(reason string) Result { return Result{Code: CodeRetry, Reason: reason} }
