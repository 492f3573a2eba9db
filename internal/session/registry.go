package session

import (
	"sort"
	"sync"
	"time"
)

// Conn is the transport handle of one session.
type Conn interface {
	Close() error
}

type Entry struct {
	Key          string
	Conn         Conn
	LastActiveAt time.Time
	// LastWarning is the last idle-warning bucket sent, 0 when none.
	LastWarning int
}

// Registry is the single owner of per-session liveness state. Every method
// takes the mutex for a bounded amount of work and never calls out while
// holding it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Entry
	now      func() time.Time
}

type RegistryOption func(*Registry)

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Entry),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register makes conn the session's handle and marks it active. A different
// handle that was registered before is returned so the caller can close it.
func (r *Registry) Register(key string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous Conn
	if e, ok := r.sessions[key]; ok && e.Conn != conn {
		previous = e.Conn
	}
	r.sessions[key] = &Entry{Key: key, Conn: conn, LastActiveAt: r.now()}
	return previous
}

// Touch records activity and clears the warning marker. Unknown keys are ignored.
func (r *Registry) Touch(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		return false
	}
	e.LastActiveAt = r.now()
	e.LastWarning = 0
	return true
}

func (r *Registry) Remove(key string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	delete(r.sessions, key)
	return e.Conn, true
}

// RemoveConn removes the session only while conn is still its current handle.
func (r *Registry) RemoveConn(key string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.sessions, key)
	return true
}

// RemoveIfIdle removes the session only if neither its handle nor its
// last activity changed since the caller observed them.
func (r *Registry) RemoveIfIdle(key string, conn Conn, lastActiveAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok || e.Conn != conn || !e.LastActiveAt.Equal(lastActiveAt) {
		return false
	}
	delete(r.sessions, key)
	return true
}

// MarkWarned records bucket as the last warning sent. It reports false when
// the session is gone or the bucket was already recorded.
func (r *Registry) MarkWarned(key string, bucket int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok || e.LastWarning == bucket {
		return false
	}
	e.LastWarning = bucket
	return true
}

func (r *Registry) Conn(key string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot copies every entry, ordered by key.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
