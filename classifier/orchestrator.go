package classifier

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/krau/triclassify/metrics"
)

type Orchestrator struct {
	slots      []Slot
	gens       []atomic.Uint64
	sink       Sink
	lanes      []*Lane
	dispatcher *Dispatcher
	latency    *metrics.LatencyTracker
	log        *slog.Logger

	// mu orders generation bumps with lane submissions across callers.
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
}

type options struct {
	latency *metrics.LatencyTracker
	logger  *slog.Logger
}

type Option func(*options)

func WithLatency(t *metrics.LatencyTracker) Option {
	return func(o *options) { o.latency = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New loads every model concurrently. A model that fails to load leaves its
// slot unavailable and a loader repeating an earlier name is skipped; New
// itself never fails. Every slot gets its own lane so one model never waits
// on another.
func New(ctx context.Context, loaders []Loader, sink Sink, opts ...Option) *Orchestrator {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	unique := make([]Loader, 0, len(loaders))
	seen := make(map[string]bool, len(loaders))
	for _, l := range loaders {
		if seen[l.Name] {
			o.logger.Error("Skipping model",
				slog.String("model", l.Name),
				slog.String("error", ErrDuplicateModel.Error()))
			continue
		}
		seen[l.Name] = true
		unique = append(unique, l)
	}

	slots := make([]Slot, len(unique))
	var g errgroup.Group
	for i, l := range unique {
		g.Go(func() error {
			slots[i] = load(ctx, l)
			if slots[i].Loaded() {
				o.logger.Info("Model loaded", slog.String("model", l.Name))
			} else {
				o.logger.Error("Model unavailable",
					slog.String("model", l.Name),
					slog.String("error", slots[i].Err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	lanes := make([]*Lane, len(slots))
	for i, s := range slots {
		if s.Loaded() {
			lanes[i] = NewLane()
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Orchestrator{
		slots:      slots,
		gens:       make([]atomic.Uint64, len(slots)),
		sink:       sink,
		lanes:      lanes,
		dispatcher: NewDispatcher(),
		latency:    o.latency,
		log:        o.logger,
		ctx:        runCtx,
		cancel:     cancel,
	}
}

func load(ctx context.Context, l Loader) (s Slot) {
	s.Name = l.Name
	defer func() {
		if r := recover(); r != nil {
			s.Classifier = nil
			s.Err = fmt.Errorf("%w: %v", ErrLoadPanic, r)
		}
	}()
	if l.Load == nil {
		s.Err = ErrNoLoader
		return s
	}
	c, err := l.Load(ctx)
	switch {
	case err != nil:
		s.Err = err
	case c == nil:
		s.Err = ErrNilClassifier
	default:
		s.Classifier = c
	}
	return s
}

func (o *Orchestrator) Slots() []SlotInfo {
	out := make([]SlotInfo, len(o.slots))
	for i, s := range o.slots {
		out[i] = SlotInfo{Name: s.Name, Available: s.Loaded()}
		if s.Err != nil {
			out[i].Error = s.Err.Error()
		}
	}
	return out
}

// Names returns the configured model names in slot order.
func (o *Orchestrator) Names() []string {
	names := make([]string, len(o.slots))
	for i, s := range o.slots {
		names[i] = s.Name
	}
	return names
}

// Classify dispatches img to every model and returns immediately. Each
// model's result reaches the sink on its own as soon as it is computed. An
// image that cannot be converted to pixels makes the call a no-op.
func (o *Orchestrator) Classify(img image.Image) {
	if o.closed.Load() {
		return
	}
	px, err := toPixels(img)
	if err != nil {
		o.log.Debug("Ignoring classify request", slog.String("error", err.Error()))
		return
	}

	req := uuid.NewString()
	o.log.Debug("Classify requested",
		slog.String("request", req),
		slog.Int("width", px.Bounds().Dx()),
		slog.Int("height", px.Bounds().Dy()))

	o.mu.Lock()
	defer o.mu.Unlock()
	for i, slot := range o.slots {
		gen := o.gens[i].Add(1)
		o.deliver(i, gen, Result{Model: slot.Name, State: StateRequested, Request: req})

		if !slot.Loaded() {
			o.deliver(i, gen, Result{Model: slot.Name, State: StateUnavailable, Request: req})
			continue
		}
		replaced, ok := o.lanes[i].Submit(func() {
			o.deliver(i, gen, o.infer(slot, px, req))
		})
		switch {
		case !ok:
			o.log.Debug("Lane closed, dropping task", slog.String("model", slot.Name))
		case replaced:
			o.log.Debug("Superseded queued task", slog.String("model", slot.Name))
		}
	}
}

func (o *Orchestrator) infer(slot Slot, img image.Image, req string) Result {
	res := Result{Model: slot.Name, Request: req}

	start := time.Now()
	preds, err := invoke(o.ctx, slot.Classifier, img)
	elapsed := time.Since(start)

	defer func() {
		if o.latency != nil {
			o.latency.Observe(slot.Name, res.State.String(), elapsed)
		}
	}()

	if err != nil {
		res.State = StateFailed
		res.Err = err.Error()
		o.log.Warn("Inference failed",
			slog.String("model", slot.Name),
			slog.String("request", req),
			slog.String("error", err.Error()))
		return res
	}

	p, ok := top(preds)
	if !ok {
		res.State = StateEmpty
		return res
	}
	res.State = StateSucceeded
	res.Label = p.Label
	res.Confidence = p.Confidence
	o.log.Debug("Inference done",
		slog.String("model", slot.Name),
		slog.String("request", req),
		slog.String("label", p.Label),
		slog.Duration("took", elapsed))
	return res
}

func invoke(ctx context.Context, c Classifier, img image.Image) (preds []Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			preds = nil
			err = fmt.Errorf("%w: %v", ErrInferencePanic, r)
		}
	}()
	return c.Classify(ctx, img)
}

// deliver hands r to the sink on the dispatcher goroutine. Results belonging
// to a superseded request are dropped there.
func (o *Orchestrator) deliver(slot int, gen uint64, r Result) {
	o.dispatcher.Post(func() {
		if cur := o.gens[slot].Load(); gen != cur {
			o.log.Debug("Dropping stale result",
				slog.String("model", r.Model),
				slog.String("request", r.Request))
			return
		}
		o.sink.Publish(r)
	})
}

// Close cancels the context handed to running models, waits for every lane
// to finish, flushes pending results and releases every model that
// implements io.Closer.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.cancel()
		for _, l := range o.lanes {
			if l != nil {
				l.Close()
			}
		}
		o.dispatcher.Close()
		for _, s := range o.slots {
			c, ok := s.Classifier.(io.Closer)
			if !ok {
				continue
			}
			if err := c.Close(); err != nil {
				o.log.Warn("Failed to release model",
					slog.String("model", s.Name),
					slog.String("error", err.Error()))
			}
		}
	})
}

func toPixels(img image.Image) (px *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			px = nil
			err = fmt.Errorf("%w: %v", ErrConversion, r)
		}
	}()
	if img == nil {
		return nil, ErrNilImage
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return imaging.Clone(img), nil
}
