// ABOUTME: MCP session state machine with its in-flight call table and SSE stream slot.
// ABOUTME: sessionStore tracks live sessions by Mcp-Session-Id.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolgate/internal/tools"
)

// State is the lifecycle state of a session.
type State int

const (
	StateConnecting State = iota
	StateNegotiated
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiated:
		return "negotiated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// streamBufferSize is the number of queued notifications per SSE stream.
const streamBufferSize = 16

var (
	errSessionClosed = errors.New("session closed")
	errStreamActive  = errors.New("session already has an open stream")
)

// session tracks one MCP client. The context is cancelled when the session
// closes, which cancels every call still in flight.
type session struct {
	id              string
	protocolVersion string
	clientInfo      ClientInfo
	clientCaps      json.RawMessage
	createdAt       time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	inflight   map[string]context.CancelFunc
	lastActive time.Time
	stream     chan []byte
}

func newSession(parent context.Context) *session {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &session{
		id:         uuid.New().String(),
		createdAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateConnecting,
		inflight:   make(map[string]context.CancelFunc),
		lastActive: now,
	}
}

// State returns the current lifecycle state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// negotiate records the handshake and moves Connecting to Negotiated.
func (s *session) negotiate(version string, info ClientInfo, caps json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
	s.clientInfo = info
	s.clientCaps = caps
	if s.state == StateConnecting {
		s.state = StateNegotiated
	}
}

// activate handles notifications/initialized.
func (s *session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateNegotiated {
		s.state = StateActive
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// beginCall registers an in-flight call under id and returns its context.
// The returned done func must be called when the call finishes.
func (s *session) beginCall(parent context.Context, id string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= StateClosing {
		return nil, nil, errSessionClosed
	}
	if _, exists := s.inflight[id]; exists {
		return nil, nil, tools.ErrDuplicateRequestID
	}

	ctx, cancel := context.WithCancel(s.ctx)
	// Client disconnects cancel the call too.
	stop := context.AfterFunc(parent, cancel)
	s.inflight[id] = cancel
	s.lastActive = time.Now()

	done := func() {
		stop()
		cancel()
		s.mu.Lock()
		delete(s.inflight, id)
		s.lastActive = time.Now()
		s.mu.Unlock()
	}
	return ctx, done, nil
}

// cancelCall cancels the in-flight call with the given id, if any.
func (s *session) cancelCall(id string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *session) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// idleSince reports whether the session has had no calls, no stream and no
// requests since cutoff.
func (s *session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) == 0 && s.stream == nil && s.lastActive.Before(cutoff)
}

// attachStream opens the session's single server-to-client stream.
func (s *session) attachStream() (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateClosing {
		return nil, errSessionClosed
	}
	if s.stream != nil {
		return nil, errStreamActive
	}
	s.stream = make(chan []byte, streamBufferSize)
	return s.stream, nil
}

func (s *session) detachStream() {
	s.mu.Lock()
	s.stream = nil
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// notify queues msg on the open stream. Returns false if there is no stream
// or its buffer is full.
func (s *session) notify(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.state >= StateClosing {
		return false
	}
	select {
	case s.stream <- msg:
		return true
	default:
		return false
	}
}

// close moves the session through Closing to Closed, cancelling every
// in-flight call. Returns false if it was already closing.
func (s *session) close() bool {
	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.cancel()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return true
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(parent context.Context) *session {
	sess := newSession(parent)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) (*session, bool) {
	s.mu.Lock()
	sess, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return sess, existed
}

func (s *sessionStore) all() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *sessionStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
