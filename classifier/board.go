package classifier

import "sync"

// Sink receives results. The orchestrator calls Publish from a single
// goroutine only.
type Sink interface {
	Publish(r Result)
}

// SlotView is the observable state of one result slot.
type SlotView struct {
	Model      string  `json:"model"`
	State      State   `json:"state"`
	Text       string  `json:"text"`
	Label      string  `json:"label,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	Request    string  `json:"request,omitempty"`
	Version    uint64  `json:"version"`
}

// Board is an in-memory Sink with one slot per model and change
// notification for the presentation layer.
type Board struct {
	mu      sync.RWMutex
	order   []string
	slots   map[string]*SlotView
	version uint64
	subs    map[chan string]struct{}
}

func NewBoard(models ...string) *Board {
	b := &Board{
		slots: make(map[string]*SlotView, len(models)),
		subs:  map[chan string]struct{}{},
	}
	for _, m := range models {
		if _, ok := b.slots[m]; !ok {
			b.add(m)
		}
	}
	return b
}

func (b *Board) add(model string) *SlotView {
	v := &SlotView{Model: model}
	b.order = append(b.order, model)
	b.slots[model] = v
	return v
}

// Publish overwrites the slot for r.Model. A Requested result only updates
// the state; the previous text stays visible until a terminal result lands.
func (b *Board) Publish(r Result) {
	b.mu.Lock()
	v, ok := b.slots[r.Model]
	if !ok {
		v = b.add(r.Model)
	}
	b.version++
	v.Version = b.version
	v.State = r.State
	v.Request = r.Request
	if r.State.Terminal() {
		v.Text = r.String()
		v.Label = r.Label
		v.Confidence = r.Confidence
	}
	subs := make([]chan string, 0, len(b.subs))
	for ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- r.Model:
		default:
		}
	}
}

func (b *Board) Text(model string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.slots[model]; ok {
		return v.Text
	}
	return ""
}

func (b *Board) Get(model string) (SlotView, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.slots[model]
	if !ok {
		return SlotView{}, false
	}
	return *v, true
}

// Snapshot returns all slots in registration order.
func (b *Board) Snapshot() []SlotView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SlotView, 0, len(b.order))
	for _, m := range b.order {
		out = append(out, *b.slots[m])
	}
	return out
}

func (b *Board) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Subscribe returns a channel receiving the name of every changed slot.
// Slow subscribers miss notifications rather than block publishers.
func (b *Board) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}
