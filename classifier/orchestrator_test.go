package classifier

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/triclassify/metrics"
)

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 8, 8))
}

func fixed(preds ...Prediction) Classifier {
	return ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
		return preds, nil
	})
}

func failing(err error) Classifier {
	return ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
		return nil, err
	})
}

type closer struct {
	Classifier
	closed atomic.Bool
}

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

func newTestOrchestrator(t *testing.T, loaders ...Loader) (*Orchestrator, *Board) {
	t.Helper()
	names := make([]string, len(loaders))
	for i, l := range loaders {
		names[i] = l.Name
	}
	board := NewBoard(names...)
	o := New(context.Background(), loaders, board)
	t.Cleanup(o.Close)
	return o, board
}

func TestClassifyMixedOutcomes(t *testing.T) {
	o, board := newTestOrchestrator(t,
		Ready("ModelA", fixed(Prediction{"cat", 0.97}, Prediction{"lynx", 0.02})),
		Ready("ModelB", fixed(Prediction{"dog", 0.5})),
		Ready("ModelC", failing(errors.New("engine exploded"))),
	)

	o.Classify(testImage())
	o.Close()

	assert.Equal(t, "ModelA: cat (97.00%)", board.Text("ModelA"))
	assert.Equal(t, "ModelB: dog (50.00%)", board.Text("ModelB"))
	assert.Equal(t, "ModelC: Error: engine exploded", board.Text("ModelC"))

	v, ok := board.Get("ModelC")
	require.True(t, ok)
	assert.Equal(t, StateFailed, v.State)
}

func TestClassifyUnavailableModel(t *testing.T) {
	o, board := newTestOrchestrator(t,
		Loader{Name: "FastViT", Load: func(context.Context) (Classifier, error) {
			return nil, errors.New("missing model file")
		}},
		Ready("ResNet50", fixed(Prediction{"tabby", 0.8})),
	)

	o.Classify(testImage())
	o.Close()

	assert.Equal(t, TextUnavailable, board.Text("FastViT"))
	assert.Equal(t, "ResNet50: tabby (80.00%)", board.Text("ResNet50"))

	v, _ := board.Get("FastViT")
	assert.Equal(t, StateUnavailable, v.State)
}

func TestClassifyEmptyAndMalformed(t *testing.T) {
	o, board := newTestOrchestrator(t,
		Ready("Empty", fixed()),
		Ready("NoLabel", fixed(Prediction{"", 0.9})),
		Ready("NaN", fixed(Prediction{"cat", float32(math.NaN())})),
		Ready("TooBig", fixed(Prediction{"cat", 1.5})),
	)

	o.Classify(testImage())
	o.Close()

	for _, name := range []string{"Empty", "NoLabel", "NaN", "TooBig"} {
		assert.Equal(t, TextNoResult, board.Text(name), name)
		v, _ := board.Get(name)
		assert.Equal(t, StateEmpty, v.State, name)
	}
}

func TestClassifyRecoversPanics(t *testing.T) {
	o, board := newTestOrchestrator(t,
		Ready("Panicky", ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
			panic("boom")
		})),
		Ready("Calm", fixed(Prediction{"cat", 0.25})),
	)

	o.Classify(testImage())
	o.Close()

	assert.Equal(t, "Panicky: Error: inference panicked: boom", board.Text("Panicky"))
	assert.Equal(t, "Calm: cat (25.00%)", board.Text("Calm"))
}

func TestSlowModelDoesNotBlockOthers(t *testing.T) {
	gate := make(chan struct{})
	o, board := newTestOrchestrator(t,
		Ready("Slow", ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
			<-gate
			return []Prediction{{"owl", 0.6}}, nil
		})),
		Ready("Fast", fixed(Prediction{"cat", 0.9})),
		Ready("Broken", failing(errors.New("bad tensor"))),
	)

	o.Classify(testImage())

	assert.Eventually(t, func() bool {
		return board.Text("Fast") == "Fast: cat (90.00%)" &&
			board.Text("Broken") == "Broken: Error: bad tensor"
	}, time.Second, 5*time.Millisecond)

	v, _ := board.Get("Slow")
	assert.Equal(t, StateRequested, v.State)
	assert.Empty(t, v.Text)

	close(gate)
	assert.Eventually(t, func() bool {
		return board.Text("Slow") == "Slow: owl (60.00%)"
	}, time.Second, 5*time.Millisecond)
}

func TestClassifyTwiceConverges(t *testing.T) {
	o, board := newTestOrchestrator(t,
		Ready("A", fixed(Prediction{"cat", 0.97})),
		Ready("B", fixed(Prediction{"dog", 0.5})),
		Ready("C", failing(errors.New("nope"))),
	)

	img := testImage()
	o.Classify(img)
	o.Classify(img)
	o.Close()

	assert.Equal(t, "A: cat (97.00%)", board.Text("A"))
	assert.Equal(t, "B: dog (50.00%)", board.Text("B"))
	assert.Equal(t, "C: Error: nope", board.Text("C"))
}

type recordingSink struct {
	mu      sync.Mutex
	results []Result
}

func (r *recordingSink) Publish(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordingSink) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, res := range r.results {
		if res.State.Terminal() {
			out = append(out, res.String())
		}
	}
	return out
}

func TestStaleResultIsDropped(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	sink := &recordingSink{}
	o := New(context.Background(), []Loader{
		Ready("M", ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
			if calls.Add(1) == 1 {
				<-gate
				return []Prediction{{"old", 0.1}}, nil
			}
			return []Prediction{{"new", 0.9}}, nil
		})),
	}, sink)

	o.Classify(testImage())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	o.Classify(testImage())
	close(gate)
	o.Close()

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"M: new (90.00%)"}, sink.texts())
}

func TestClassifyInvalidImageIsNoop(t *testing.T) {
	var calls atomic.Int32
	o, board := newTestOrchestrator(t,
		Ready("M", ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
			calls.Add(1)
			return []Prediction{{"cat", 1}}, nil
		})),
	)

	o.Classify(nil)
	o.Classify(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	var typedNil *image.RGBA
	o.Classify(typedNil)
	o.Close()

	assert.Zero(t, calls.Load())
	assert.Zero(t, board.Version())
	assert.Empty(t, board.Text("M"))
}

func TestModelsShareOneConvertedImage(t *testing.T) {
	seen := make(chan image.Image, 2)
	record := ClassifierFunc(func(_ context.Context, img image.Image) ([]Prediction, error) {
		seen <- img
		return []Prediction{{"x", 0.5}}, nil
	})
	o, _ := newTestOrchestrator(t, Ready("A", record), Ready("B", record))

	o.Classify(testImage())
	o.Close()

	a, b := <-seen, <-seen
	_, isNRGBA := a.(*image.NRGBA)
	assert.True(t, isNRGBA)
	assert.Same(t, a, b)
}

func TestLoadFailuresAreNonFatal(t *testing.T) {
	o, _ := newTestOrchestrator(t,
		Loader{Name: "Err", Load: func(context.Context) (Classifier, error) {
			return nil, errors.New("corrupt")
		}},
		Loader{Name: "Nil", Load: func(context.Context) (Classifier, error) { return nil, nil }},
		Loader{Name: "Panic", Load: func(context.Context) (Classifier, error) { panic("bad weights") }},
		Loader{Name: "Missing"},
		Ready("Good", fixed()),
	)

	slots := o.Slots()
	require.Len(t, slots, 5)
	assert.Equal(t, []string{"Err", "Nil", "Panic", "Missing", "Good"}, o.Names())

	assert.Equal(t, SlotInfo{Name: "Err", Error: "corrupt"}, slots[0])
	assert.Equal(t, ErrNilClassifier.Error(), slots[1].Error)
	assert.Contains(t, slots[2].Error, "bad weights")
	assert.Equal(t, ErrNoLoader.Error(), slots[3].Error)
	assert.Equal(t, SlotInfo{Name: "Good", Available: true}, slots[4])
}

func TestCloseReleasesModels(t *testing.T) {
	c := &closer{Classifier: fixed(Prediction{"cat", 0.5})}
	var calls atomic.Int32
	counted := ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
		calls.Add(1)
		return nil, nil
	})
	o, board := newTestOrchestrator(t, Ready("Closer", c), Ready("Counted", counted))

	o.Close()
	o.Close()
	assert.True(t, c.closed.Load())

	o.Classify(testImage())
	assert.Zero(t, calls.Load())
	assert.Zero(t, board.Version())
}

func TestLatencyIsRecorded(t *testing.T) {
	tr := metrics.NewLatencyTracker(0.2)
	loaders := []Loader{
		Ready("Ok", fixed(Prediction{"cat", 0.5})),
		Ready("Bad", failing(errors.New("x"))),
	}
	o := New(context.Background(), loaders, NewBoard("Ok", "Bad"), WithLatency(tr))

	o.Classify(testImage())
	o.Close()

	ok, found := tr.Get("Ok")
	require.True(t, found)
	assert.Equal(t, uint64(1), ok.Outcomes["succeeded"])

	bad, found := tr.Get("Bad")
	require.True(t, found)
	assert.Equal(t, uint64(1), bad.Outcomes["failed"])
}

func TestRepeatedRequestsDoNotStarveOtherModels(t *testing.T) {
	gate := make(chan struct{})
	var slowCalls atomic.Int32
	o, board := newTestOrchestrator(t,
		Ready("Slow", ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
			slowCalls.Add(1)
			<-gate
			return []Prediction{{"owl", 0.6}}, nil
		})),
		Ready("Fast", fixed(Prediction{"cat", 0.9})),
	)

	o.Classify(testImage())
	require.Eventually(t, func() bool { return slowCalls.Load() == 1 }, time.Second, time.Millisecond)

	returned := make(chan struct{})
	go func() {
		for range 49 {
			o.Classify(testImage())
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Classify blocked behind a slow model")
	}

	assert.Eventually(t, func() bool {
		v, _ := board.Get("Fast")
		return v.State == StateSucceeded && v.Text == "Fast: cat (90.00%)"
	}, time.Second, 5*time.Millisecond)

	close(gate)
	o.Close()

	// the running call plus the newest queued one; the rest were superseded
	assert.Equal(t, int32(2), slowCalls.Load())
	assert.Equal(t, "Slow: owl (60.00%)", board.Text("Slow"))
}

func TestCloseCancelsRunningInference(t *testing.T) {
	started := make(chan struct{})
	o, board := newTestOrchestrator(t,
		Ready("Waiting", ClassifierFunc(func(ctx context.Context, _ image.Image) ([]Prediction, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})),
	)

	o.Classify(testImage())
	<-started

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a model waiting for cancellation")
	}
	assert.Equal(t, "Waiting: Error: context canceled", board.Text("Waiting"))
}

func TestDuplicateModelNames(t *testing.T) {
	var calls atomic.Int32
	second := ClassifierFunc(func(context.Context, image.Image) ([]Prediction, error) {
		calls.Add(1)
		return []Prediction{{"dog", 0.4}}, nil
	})
	o, board := newTestOrchestrator(t,
		Ready("Twin", fixed(Prediction{"cat", 0.9})),
		Ready("Twin", second),
	)

	slots := o.Slots()
	require.Len(t, slots, 1)
	assert.True(t, slots[0].Available)

	o.Classify(testImage())
	o.Close()

	assert.Zero(t, calls.Load())
	assert.Equal(t, "Twin: cat (90.00%)", board.Text("Twin"))
}
