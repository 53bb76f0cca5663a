package layers

import (
	"sync"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
)

type Reason string

const (
	ReasonDataset Reason = "dataset"
	ReasonToggle  Reason = "toggle"
	ReasonSet     Reason = "set"
	ReasonReset   Reason = "reset"
)

// Change is published after every mutation of the active set.
type Change struct {
	Reason Reason
	Layer  analysis.LayerID // set for toggles
	Active []analysis.LayerID
}

type bus struct {
	mu   sync.RWMutex
	subs map[chan Change]struct{}
}

func newBus() *bus {
	return &bus{subs: make(map[chan Change]struct{})}
}

func (b *bus) publish(e Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

func (b *bus) subscribe() chan Change {
	ch := make(chan Change, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *bus) unsubscribe(ch chan Change) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
