package onnx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/triclassify/classifier"
	"github.com/krau/triclassify/config"
)

type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) destroy() error {
	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	if s.input != nil {
		errs = append(errs, s.input.Destroy())
	}
	if s.output != nil {
		errs = append(errs, s.output.Destroy())
	}
	return errors.Join(errs...)
}

// Model is an ONNX image classifier. Each call borrows one of its sessions,
// so concurrent calls never share tensors.
type Model struct {
	cfg    config.ModelConfig
	labels []string
	pool   chan *session
	all    []*session

	mu     sync.RWMutex
	closed bool
}

var _ classifier.Classifier = (*Model)(nil)

func Load(dir string, cfg config.ModelConfig) (*Model, error) {
	onnxPath := filepath.Join(dir, cfg.File)
	labels, err := ReadLines(filepath.Join(dir, cfg.Labels))
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	if _, err := Activate(nil, cfg.Activation); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no inputs or outputs", cfg.Name)
	}
	classes := len(labels)
	if dims := outputs[0].Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		if int(dims[len(dims)-1]) != classes {
			return nil, fmt.Errorf("%w: %d labels, %d outputs", ErrLabelMismatch, classes, dims[len(dims)-1])
		}
	}

	n := max(cfg.Sessions, 1)
	m := &Model{
		cfg:    cfg,
		labels: labels,
		pool:   make(chan *session, n),
	}
	for range n {
		s, err := newSession(onnxPath, inputs[0].Name, outputs[0].Name, cfg.ImageSize, classes)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.all = append(m.all, s)
		m.pool <- s
	}
	slog.Info("ONNX model ready",
		slog.String("model", cfg.Name),
		slog.String("path", onnxPath),
		slog.Int("classes", classes),
		slog.Int("sessions", len(m.all)))
	return m, nil
}

func newSession(onnxPath, inputName, outputName string, size, classes int) (*session, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	s := &session{}
	s.input, err = ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes)))
	if err != nil {
		_ = s.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.session, err = ort.NewAdvancedSession(
		onnxPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{s.input},
		[]ort.Value{s.output},
		opts,
	)
	if err != nil {
		_ = s.destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return s, nil
}

func (m *Model) Name() string {
	return m.cfg.Name
}

func (m *Model) Classify(ctx context.Context, img image.Image) ([]classifier.Prediction, error) {
	inputData := Preprocess(img, m.cfg.ImageSize, m.cfg.Mean, m.cfg.Std)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrModelClosed
	}

	var s *session
	select {
	case s = <-m.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { m.pool <- s }()

	copy(s.input.GetData(), inputData)
	if err := s.session.Run(); err != nil {
		return nil, err
	}

	logitsTensor := s.output.GetData()
	logits := make([]float32, len(logitsTensor))
	copy(logits, logitsTensor)

	scores, err := Activate(logits, m.cfg.Activation)
	if err != nil {
		return nil, err
	}
	return Rank(scores, m.labels, m.cfg.TopK), nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, s := range m.all {
		errs = append(errs, s.destroy())
	}
	return errors.Join(errs...)
}

// Loaders builds one classifier loader per configured model.
func Loaders(dir string, models []config.ModelConfig) []classifier.Loader {
	loaders := make([]classifier.Loader, len(models))
	for i, mc := range models {
		loaders[i] = classifier.Loader{
			Name: mc.Name,
			Load: func(context.Context) (classifier.Classifier, error) {
				m, err := Load(dir, mc)
				if err != nil {
					return nil, err
				}
				return m, nil
			},
		}
	}
	return loaders
}
