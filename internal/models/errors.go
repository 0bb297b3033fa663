package models

import "errors"

// Error kinds shared across the pipeline. Callers wrap these with
// fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	ErrConfig            = errors.New("invalid configuration")
	ErrNotFound          = errors.New("not found")
	ErrCorruptData       = errors.New("corrupt data")
	ErrCheckpointMissing = errors.New("checkpoint not found")
	ErrCheckpointFormat  = errors.New("checkpoint format mismatch")
	ErrIO                = errors.New("i/o failure")
	ErrOutOfRange        = errors.New("index out of range")
)
