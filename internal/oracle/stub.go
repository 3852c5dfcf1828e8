package oracle

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrOffline is returned by a Stub with no reply queued.
var ErrOffline = eris.New("oracle: offline")

// Stub is an in-process oracle. With nothing queued it fails every call,
// which drives callers onto their deterministic fallback. Queued replies are
// served in order per phase; the last one repeats.
type Stub struct {
	mu       sync.Mutex
	replies  map[Phase][]string
	errs     map[Phase]error
	requests []Request
}

// NewStub returns a Stub that fails every call.
func NewStub() *Stub {
	return &Stub{replies: make(map[Phase][]string), errs: make(map[Phase]error)}
}

// Reply queues text answers for phase.
func (s *Stub) Reply(phase Phase, texts ...string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[phase] = append(s.replies[phase], texts...)
	return s
}

// Fail makes every call for phase return err.
func (s *Stub) Fail(phase Phase, err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[phase] = err
	return s
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Ask(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if err := s.errs[req.Phase]; err != nil {
		return Response{}, err
	}
	queue := s.replies[req.Phase]
	if len(queue) == 0 {
		return Response{}, ErrOffline
	}
	text := queue[0]
	if len(queue) > 1 {
		s.replies[req.Phase] = queue[1:]
	}
	return Response{Kind: KindText, Text: text}, nil
}

// Requests returns a copy of every request received.
func (s *Stub) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls counts requests for phase.
func (s *Stub) Calls(phase Phase) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Phase == phase {
			n++
		}
	}
	return n
}
