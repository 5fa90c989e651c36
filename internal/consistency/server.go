package consistency

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dreamware/graphps/internal/blob"
)

// Server serializes every request to a controller through one goroutine.
// Requests may be submitted from any goroutine.
type Server struct {
	ctrl    Controller
	workers int
	inbox   chan *Message
	log     zerolog.Logger
}

// NewServer returns a Server driving ctrl for workers workers. depth bounds
// the inbox; submitters block while it is full.
func NewServer(ctrl Controller, workers, depth int, log zerolog.Logger) *Server {
	if depth < 1 {
		depth = 1
	}
	return &Server{
		ctrl:    ctrl,
		workers: workers,
		inbox:   make(chan *Message, depth),
		log:     log.With().Str("component", "controller").Logger(),
	}
}

// Run processes messages until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Int("workers", s.workers).Msg("controller started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("controller stopped")
			return ctx.Err()
		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

func (s *Server) handle(m *Message) {
	switch m.Kind {
	case KindGet:
		s.ctrl.ProcessGet(m)
	case KindAdd:
		s.ctrl.ProcessAdd(m)
	case KindFinish:
		s.log.Info().Int("worker", m.Worker).Msg("worker finished training")
		s.ctrl.ProcessFinish(m)
	default:
		m.reply(nil, fmt.Errorf("unsupported message kind %s", m.Kind))
	}
}

type result struct {
	data blob.Blob
	err  error
}

// Submit delivers m and waits for its reply. A deferred request keeps
// waiting until the controller releases it. If ctx ends first the request
// is still executed but its reply is dropped.
func (s *Server) Submit(ctx context.Context, m *Message) (blob.Blob, error) {
	if m.Worker < 0 || m.Worker >= s.workers {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownWorker, m.Worker, s.workers)
	}
	done := make(chan result, 1)
	m.Done = func(b blob.Blob, err error) { done <- result{b, err} }

	select {
	case s.inbox <- m:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get submits a Get-path request from worker for table.
func (s *Server) Get(ctx context.Context, worker, table int, req blob.Blob) (blob.Blob, error) {
	return s.Submit(ctx, &Message{Kind: KindGet, Worker: worker, Table: table, Data: req})
}

// Add submits an Add-path request from worker for table.
func (s *Server) Add(ctx context.Context, worker, table int, req blob.Blob) (blob.Blob, error) {
	return s.Submit(ctx, &Message{Kind: KindAdd, Worker: worker, Table: table, Data: req})
}

// Finish signals that worker will send no further requests.
func (s *Server) Finish(ctx context.Context, worker int) error {
	_, err := s.Submit(ctx, &Message{Kind: KindFinish, Worker: worker})
	return err
}
