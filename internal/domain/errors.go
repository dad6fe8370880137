package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrBinding          = errors.New("binding failed")
	ErrSubmission       = errors.New("submission failed")
	ErrTransport        = errors.New("transport failed")
	ErrArtifactFetch    = errors.New("artifact fetch failed")
)

// IsSetupFailure reports whether err aborted a job before any event was
// streamed. Such jobs never obtained a prompt id and need no cleanup.
func IsSetupFailure(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrBinding) ||
		errors.Is(err, ErrSubmission)
}
