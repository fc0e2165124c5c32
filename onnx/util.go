package onnx

import (
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/krau/triclassify/classifier"
)

func Sigmoid(x float32) float32 {
	if x > 50 {
		x = 50
	} else if x < -50 {
		x = -50
	}
	return 1 / (1 + float32(math.Exp(float64(-x))))
}

func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		maxv = max(maxv, v)
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxv))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Activate turns raw model outputs into confidences.
func Activate(logits []float32, activation string) ([]float32, error) {
	switch activation {
	case "softmax":
		return Softmax(logits), nil
	case "sigmoid":
		out := make([]float32, len(logits))
		for i, v := range logits {
			out[i] = Sigmoid(v)
		}
		return out, nil
	case "none", "":
		return append([]float32(nil), logits...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivation, activation)
	}
}

// Rank pairs scores with labels, sorted by descending score, keeping at most k.
func Rank(scores []float32, labels []string, k int) []classifier.Prediction {
	n := min(len(scores), len(labels))
	items := make([]classifier.Prediction, 0, n)
	for i := range n {
		items = append(items, classifier.Prediction{Label: labels[i], Confidence: scores[i]})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Confidence > items[j].Confidence
	})
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

func ReadLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(b), "\n")
	var labels []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}
	return labels, nil
}

// Preprocess centre-crops img to size×size and returns normalised NCHW data.
func Preprocess(img image.Image, size int, mean, std [3]float32) []float32 {
	img = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	out := make([]float32, 3*size*size)
	rBase := 0
	gBase := size * size
	bBase := 2 * size * size

	for y := range size {
		for x := range size {
			r, g, b, _ := img.At(x, y).RGBA()
			fr := float32(r) / 65535.0
			fg := float32(g) / 65535.0
			fb := float32(b) / 65535.0

			out[rBase] = (fr - mean[0]) / std[0]
			out[gBase] = (fg - mean[1]) / std[1]
			out[bBase] = (fb - mean[2]) / std[2]

			rBase++
			gBase++
			bBase++
		}
	}
	return out
}
