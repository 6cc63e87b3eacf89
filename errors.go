package strategist

import (
	"errors"
	"fmt"
)

// ErrPipelineExhausted marks a document run that failed on every rung of the
// degradation ladder. Match with errors.Is against the returned
// PipelineError.
var ErrPipelineExhausted = errors.New("strategist: pipeline exhausted")

// ChunkingUnsafeError reports that splitting produced chunks whose element
// integrity could not be guaranteed. It arms the reduced-chunking rung; it is
// not fatal by itself.
type ChunkingUnsafeError struct {
	UnsafeChunks []int
}

func (e *ChunkingUnsafeError) Error() string {
	return fmt.Sprintf("strategist: chunking produced %d unsafe chunks", len(e.UnsafeChunks))
}

// SchemaGenerationError reports a final schema that failed re-validation
// against the source document.
type SchemaGenerationError struct {
	Reason string
	Cause  error
}

func (e *SchemaGenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("strategist: schema generation: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("strategist: schema generation: %s", e.Reason)
}

func (e *SchemaGenerationError) Unwrap() error { return e.Cause }

// PipelineError is the user-visible failure of a document run. It always
// identifies the last ladder rung reached and carries that rung's root
// failure, so callers can distinguish an exhausted oracle from a broken
// document without parsing messages.
type PipelineError struct {
	Rung  string // rung that failed last: full, reduced, single, or heuristic
	Cause error  // root failure class of that rung
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("strategist: pipeline failed at rung %q: %v", e.Rung, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrPipelineExhausted) match a PipelineError.
func (e *PipelineError) Is(target error) bool { return target == ErrPipelineExhausted }
