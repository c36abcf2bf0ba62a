package advisor

import (
	"errors"
	"io"
	"strings"
	"sync"
)

type State int

const (
	StateOpen State = iota
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "failed"
	}
}

// Stream is a unidirectional token stream. It starts Open and ends either Closed, after a
// normal end or an early Close, or Failed, after an upstream error. Recv must be called from
// a single goroutine; Close may be called from any.
type Stream struct {
	recv  func() (string, error)
	close func() error

	mu        sync.Mutex
	state     State
	err       error
	closeOnce sync.Once
	closeErr  error
}

// NewStream adapts a token source. recv returns io.EOF at the normal end; closer may be nil.
func NewStream(recv func() (string, error), closer func() error) *Stream {
	if closer == nil {
		closer = func() error { return nil }
	}
	return &Stream{recv: recv, close: closer}
}

// Recv returns the next non-empty token, io.EOF once the stream is closed, or the error
// that failed it.
func (s *Stream) Recv() (string, error) {
	for {
		if state, err := s.status(); state == StateClosed {
			return "", io.EOF
		} else if state == StateFailed {
			return "", err
		}

		tok, err := s.recv()
		switch {
		case errors.Is(err, io.EOF):
			s.finish(StateClosed, nil)
			return "", io.EOF
		case err != nil:
			if state, _ := s.status(); state == StateClosed {
				return "", io.EOF
			}
			s.finish(StateFailed, err)
			return "", err
		case tok == "":
			continue
		default:
			return tok, nil
		}
	}
}

// Close ends an open stream early and releases the upstream connection.
func (s *Stream) Close() error {
	s.finish(StateClosed, nil)
	return s.closeErr
}

func (s *Stream) State() State {
	state, _ := s.status()
	return state
}

func (s *Stream) Err() error {
	_, err := s.status()
	return err
}

func (s *Stream) status() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

func (s *Stream) finish(state State, err error) {
	s.mu.Lock()
	if s.state == StateOpen {
		s.state, s.err = state, err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { s.closeErr = s.close() })
}

// Collect drains the stream into one string.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
}
