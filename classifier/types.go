// Package classifier runs one image through several independently loaded
// classification models at once and publishes each model's verdict to its
// own result slot as soon as it is ready.
package classifier

import (
	"context"
	"image"
)

type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Classifier maps an image to predictions ranked by descending confidence.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) ([]Prediction, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, img image.Image) ([]Prediction, error)

func (f ClassifierFunc) Classify(ctx context.Context, img image.Image) ([]Prediction, error) {
	return f(ctx, img)
}

// Loader acquires the classifier for one named model.
type Loader struct {
	Name string
	Load func(ctx context.Context) (Classifier, error)
}

// Ready wraps an already loaded classifier.
func Ready(name string, c Classifier) Loader {
	return Loader{Name: name, Load: func(context.Context) (Classifier, error) { return c, nil }}
}

// Slot is a model handle: either loaded, or unavailable with the load error.
type Slot struct {
	Name       string
	Classifier Classifier
	Err        error
}

func (s Slot) Loaded() bool {
	return s.Classifier != nil
}

type SlotInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}
