// Package shard implements a partitioned packet outcome tracker. Every
// packet is owned by exactly one worker; aggregate reads go through
// snapshots taken after all previously submitted events have been handled.
package shard

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/logging"
	"github.com/brocaar/chirpstack-network-simulator/internal/phy"
	"github.com/brocaar/chirpstack-network-simulator/internal/tracker"
)

const queueSize = 64

// Pool lifecycle errors.
var (
	ErrClosed     = errors.New("shard pool closed")
	ErrNotStarted = errors.New("shard pool not started")
)

type job struct {
	ctx      context.Context
	event    *events.Event
	done     chan struct{}
	snapshot chan *tracker.Tracker
}

type worker struct {
	id      int
	tracker *tracker.Tracker
	jobs    chan job
}

// Pool partitions the tracker records over a fixed number of workers.
type Pool struct {
	profile phy.TXParams
	workers []*worker

	g    *errgroup.Group
	gctx context.Context

	// state guards started and closed. Submits hold the read lock so that
	// the job channels are never closed while a send is pending.
	state   sync.RWMutex
	started bool
	closed  bool

	mu  sync.Mutex
	err error
}

// NewPool creates a new Pool with the given number of workers. Each worker
// owns a tracker using the given TX profile.
func NewPool(size int, profile phy.TXParams) *Pool {
	if size < 1 {
		size = 1
	}

	p := Pool{
		profile: profile,
	}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, &worker{
			id:      i,
			tracker: tracker.New(profile),
			jobs:    make(chan job, queueSize),
		})
	}
	return &p
}

// Start starts the workers. A fatal error in one of the workers cancels
// all of them. Calling Start more than once, or after Close, has no effect.
func (p *Pool) Start(ctx context.Context) {
	p.state.Lock()
	defer p.state.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.g, p.gctx = errgroup.WithContext(ctx)
	for i := range p.workers {
		w := p.workers[i]
		p.g.Go(func() error {
			return p.run(w)
		})
	}

	log.WithField("workers", len(p.workers)).Info("shard: pool started")
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// HandleEvent routes the given event to the worker owning its packet.
// Events which are not handled by the tracker are ignored.
func (p *Pool) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.TransmissionStarted, events.MACTransmissionStarted, events.ReceptionOutcome, events.MACReception, events.RetransmissionFinished:
	default:
		return nil
	}

	id, ok := e.PacketID()
	if !ok {
		return nil
	}

	w := p.workers[int(uint64(id)%uint64(len(p.workers)))]
	return p.submit(w, job{ctx: ctx, event: &e})
}

// Barrier blocks until every event submitted before has been handled.
func (p *Pool) Barrier() error {
	var done []chan struct{}
	for _, w := range p.workers {
		ch := make(chan struct{})
		if err := p.submit(w, job{done: ch}); err != nil {
			return err
		}
		done = append(done, ch)
	}

	for _, ch := range done {
		select {
		case <-ch:
		case <-p.gctx.Done():
			return p.Err()
		}
	}
	return nil
}

// Snapshot returns a read-only tracker holding the union of the records of
// all workers, including every event submitted before.
func (p *Pool) Snapshot() (*tracker.Tracker, error) {
	var chans []chan *tracker.Tracker
	for _, w := range p.workers {
		ch := make(chan *tracker.Tracker, 1)
		if err := p.submit(w, job{snapshot: ch}); err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}

	var snapshots []*tracker.Tracker
	for _, ch := range chans {
		select {
		case s := <-ch:
			snapshots = append(snapshots, s)
		case <-p.gctx.Done():
			return nil, p.Err()
		}
	}

	return tracker.Merge(p.profile, snapshots...)
}

// Close stops the workers after the pending events have been handled and
// returns the first fatal error, if any. Events submitted after Close are
// rejected with ErrClosed.
func (p *Pool) Close() error {
	p.state.Lock()
	if !p.closed {
		p.closed = true
		if p.started {
			for _, w := range p.workers {
				close(w.jobs)
			}
		}
	}
	started := p.started
	p.state.Unlock()

	if !started {
		return nil
	}
	return p.g.Wait()
}

// Done returns a channel that is closed when the pool stopped because of a
// fatal error or its parent context. It is nil before Start.
func (p *Pool) Done() <-chan struct{} {
	p.state.RLock()
	defer p.state.RUnlock()

	if !p.started {
		return nil
	}
	return p.gctx.Done()
}

// Err returns the error which stopped the pool.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	return ErrClosed
}

func (p *Pool) submit(w *worker, j job) error {
	p.state.RLock()
	defer p.state.RUnlock()

	switch {
	case p.closed:
		return ErrClosed
	case !p.started:
		return ErrNotStarted
	}

	select {
	case w.jobs <- j:
		return nil
	case <-p.gctx.Done():
		return p.Err()
	}
}

func (p *Pool) run(w *worker) error {
	for {
		select {
		case <-p.gctx.Done():
			return nil
		case j, ok := <-w.jobs:
			if !ok {
				return nil
			}

			switch {
			case j.done != nil:
				close(j.done)
			case j.snapshot != nil:
				j.snapshot <- w.tracker.Snapshot()
			case j.event != nil:
				if err := p.handle(w, j); err != nil {
					return err
				}
			}
		}
	}
}

func (p *Pool) handle(w *worker, j job) error {
	err := w.tracker.HandleEvent(j.ctx, *j.event)
	if err == nil {
		return nil
	}

	if errors.Cause(err) == tracker.ErrDuplicateOutcome {
		log.WithError(err).WithFields(log.Fields{
			"worker": w.id,
			"ctx_id": j.ctx.Value(logging.ContextIDKey),
		}).Warning("shard: event rejected")
		return nil
	}

	err = errors.Wrapf(err, "worker %d", w.id)

	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()

	return err
}
