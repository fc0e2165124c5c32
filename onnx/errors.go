package onnx

import "errors"

var (
	ErrNoLabels          = errors.New("labels file is empty")
	ErrLabelMismatch     = errors.New("label count does not match model output")
	ErrUnknownActivation = errors.New("unknown activation")
	ErrModelClosed       = errors.New("model is closed")
)
