// Package ingress implements the single entry point of the simulator core.
// Every event is checked for time ordering and dispatched to the tracker,
// the status store and the controller, in that order.
package ingress

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/logging"
	"github.com/brocaar/chirpstack-network-simulator/internal/status"
	"github.com/brocaar/chirpstack-network-simulator/internal/tracker"
)

// ErrTimeRegression is returned when an event is older than the last
// accepted event.
var ErrTimeRegression = errors.New("event time is before the last accepted event")

// Handler handles a single event.
type Handler interface {
	HandleEvent(ctx context.Context, e events.Event) error
}

// Server dispatches the ingress events to the handlers.
type Server struct {
	handlers []Handler

	mu  sync.Mutex
	now time.Duration

	wg    sync.WaitGroup
	done  chan struct{}
	errCh chan error
}

// NewServer creates a new Server. The handlers are called in the given
// order.
func NewServer(handlers ...Handler) *Server {
	return &Server{
		handlers: handlers,
		done:     make(chan struct{}),
		errCh:    make(chan error, 1),
	}
}

// Handle handles the given event. It returns an error when the event could
// not be handled and the simulation can not continue.
func (s *Server) Handle(ctx context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.Validate(); err != nil {
		return err
	}

	if e.Time < s.now {
		return errors.Wrapf(ErrTimeRegression, "event time %s, last accepted %s", e.Time, s.now)
	}
	s.now = e.Time

	ctx, err := logging.WithContextID(ctx)
	if err != nil {
		return err
	}

	eventCounter(e.Type).Inc()

	for _, h := range s.handlers {
		err := h.HandleEvent(ctx, e)
		if err == nil {
			continue
		}

		if isFatal(err) {
			return errors.Wrapf(err, "handle %s event error", e.Type)
		}

		errorCounter(errors.Cause(err)).Inc()
		log.WithError(err).WithFields(log.Fields{
			"type":   e.Type,
			"time":   e.Time,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Warning("ingress: event rejected")
	}

	return nil
}

// Now returns the time of the last accepted event.
func (s *Server) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Start consumes the events from the given channel until it is closed, the
// server is stopped or a fatal error occurs. A fatal error is delivered on
// Err.
func (s *Server) Start(eventChan <-chan events.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			select {
			case <-s.done:
				return
			case e, ok := <-eventChan:
				if !ok {
					return
				}

				if err := s.Handle(context.Background(), e); err != nil {
					log.WithError(err).Error("ingress: handle event error")
					s.errCh <- err
					return
				}
			}
		}
	}()
}

// Stop stops consuming events and waits for the pending event to complete.
func (s *Server) Stop() {
	close(s.done)
	log.Info("ingress: waiting for pending events to complete")
	s.wg.Wait()
}

// Err returns the channel on which a fatal error is delivered.
func (s *Server) Err() <-chan error {
	return s.errCh
}

func isFatal(err error) bool {
	switch errors.Cause(err) {
	case tracker.ErrDuplicateOutcome,
		status.ErrAlreadyRegistered,
		status.ErrAlreadyScheduled,
		status.ErrNoPacketsYet,
		status.ErrNoReplyNeeded:
		return false
	}
	return true
}
