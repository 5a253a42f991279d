package brief

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal orchestration failure.
type Kind string

const (
	// KindInvalidRequest reports a request with no tickers or topics after
	// trimming.
	KindInvalidRequest Kind = "invalid_request"
	// KindNoDataAvailable reports that both upstream services failed.
	KindNoDataAvailable Kind = "no_data_available"
	// KindNothingToSummarize reports that all data was dropped during
	// processing and the prompt would be empty.
	KindNothingToSummarize Kind = "nothing_to_summarize"
	// KindGenerationFailed reports a model failure with no other data to
	// fall back on.
	KindGenerationFailed Kind = "generation_failed"
	// KindRequestCancelled reports that the caller's context ended before
	// the pipeline finished.
	KindRequestCancelled Kind = "request_cancelled"
)

// Failure is the structured error returned to callers for fatal conditions.
// Upstream stack detail never leaks through it.
type Failure struct {
	Kind    Kind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func newFailure(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsFailure unwraps err into a *Failure if it is one.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return nil
}
