package classifier

import "errors"

var (
	ErrNoLoader       = errors.New("no loader for model")
	ErrNilClassifier  = errors.New("loader returned nil classifier")
	ErrDuplicateModel = errors.New("duplicate model name")
	ErrLoadPanic      = errors.New("model load panicked")
	ErrInferencePanic = errors.New("inference panicked")
	ErrNilImage       = errors.New("image is nil")
	ErrEmptyImage     = errors.New("image has no pixels")
	ErrConversion     = errors.New("image cannot be converted")
)
