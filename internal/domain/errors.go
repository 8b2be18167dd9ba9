package domain

import "errors"

var (
	// ErrNotFound reports a missing article, edition or document.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition reports a state change rejected by the table or a data gate.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyExists reports an insert of an id that is already registered.
	ErrAlreadyExists = errors.New("already exists")
	// ErrIncomplete reports a record pair where neither copy carries the original capture.
	ErrIncomplete = errors.New("incomplete record")
	// ErrPublishFailed reports a publish workflow that could not persist its edition.
	ErrPublishFailed = errors.New("publish failed")
	// ErrUnsupportedSchema reports a stored record with an unknown schema version.
	ErrUnsupportedSchema = errors.New("unsupported schema version")
)
