package models

import (
	"errors"
	"fmt"
)

// Error taxonomy for the two pipelines. Per-page recognition failures
// are recorded on the page and never propagate past the pipeline;
// everything else wraps one of these sentinels.
var (
	ErrInvalidDocument  = errors.New("invalid document")
	ErrRecognitionFail  = errors.New("recognition failed")
	ErrIndexingFailed   = errors.New("indexing failed")
	ErrIntegrationFail  = errors.New("integration failed")
	ErrTranslationFail  = errors.New("translation failed")
	ErrAnswerGeneration = errors.New("answer generation failed")
)

// StageError is a pipeline-level fatal error with enough context for
// diagnosis: which document, which stage, and the underlying cause.
type StageError struct {
	DocumentID string
	Stage      Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("document %s: stage %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
