package pipeline

import (
	"context"
	"sync"

	"github.com/kalambet/fieldguide/internal/retrieval"
)

// IndexStatus is the lifecycle of the shared index.
type IndexStatus string

const (
	IndexBuilding IndexStatus = "building"
	IndexReady    IndexStatus = "ready"
	IndexFailed   IndexStatus = "failed"
)

// GateState is a snapshot of an IndexGate.
type GateState struct {
	Status IndexStatus
	Index  *retrieval.Index
	Report Report
	Err    error
}

// IndexGate publishes the outcome of the background index build. It settles
// exactly once; later calls to Resolve or Fail are ignored.
type IndexGate struct {
	mu      sync.RWMutex
	state   GateState
	settled bool
	done    chan struct{}
}

func NewIndexGate() *IndexGate {
	return &IndexGate{
		state: GateState{Status: IndexBuilding},
		done:  make(chan struct{}),
	}
}

// Resolve publishes a built index.
func (g *IndexGate) Resolve(ix *retrieval.Index, report Report) {
	g.settle(GateState{Status: IndexReady, Index: ix, Report: report})
}

// Fail publishes a build failure.
func (g *IndexGate) Fail(err error, report Report) {
	g.settle(GateState{Status: IndexFailed, Report: report, Err: err})
}

func (g *IndexGate) settle(s GateState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settled {
		return
	}
	g.state = s
	g.settled = true
	close(g.done)
}

// State returns the current snapshot.
func (g *IndexGate) State() GateState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Done is closed once the gate settles.
func (g *IndexGate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate settles or ctx ends.
func (g *IndexGate) Wait(ctx context.Context) (*retrieval.Index, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.done:
	}
	s := g.State()
	if s.Status == IndexFailed {
		return nil, s.Err
	}
	return s.Index, nil
}

// Index returns the ready index, ErrIndexPending while building, or the
// build error after a failure.
func (g *IndexGate) Index() (*retrieval.Index, error) {
	s := g.State()
	switch s.Status {
	case IndexReady:
		return s.Index, nil
	case IndexFailed:
		return nil, s.Err
	default:
		return nil, ErrIndexPending
	}
}
