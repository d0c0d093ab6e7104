// Package registry owns the mapping from live transport connections to
// stable participant identities, and serializes all stream access per
// connection.
package registry

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrDuplicateIdentity = errors.New("participant id already registered")
)

// Conn is the duplex, message-oriented transport the engine runs on.
// *websocket.Conn satisfies it; tests substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Client is the registered handle for one connection. A single read loop
// owns the inbound stream, so two receives can never race on the same
// underlying socket; writers are serialized by writeMu.
type Client struct {
	ID string

	conn        Conn
	readTimeout time.Duration

	inbox chan []byte
	gone  chan struct{}
	stop  chan struct{}

	readMu      sync.Mutex
	writeMu     sync.Mutex
	releaseOnce sync.Once
}

// Inbox yields inbound frames in arrival order. It is closed when the
// connection drops or is released.
func (c *Client) Inbox() <-chan []byte { return c.inbox }

// Gone is closed as soon as the read loop observes a dead connection.
func (c *Client) Gone() <-chan struct{} { return c.gone }

// Send writes one JSON frame. Safe for concurrent use.
func (c *Client) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// close tears down the transport once; subsequent calls are no-ops.
func (c *Client) close() {
	c.releaseOnce.Do(func() {
		close(c.stop)
		if err := c.conn.Close(); err != nil {
			log.Printf("[registry] close client=%s: %v", c.ID, err)
		}
	})
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	defer close(c.gone)
	for {
		c.readMu.Lock()
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, payload, err := c.conn.ReadMessage()
		c.readMu.Unlock()
		if err != nil {
			return
		}
		select {
		case c.inbox <- payload:
		case <-c.stop:
			return
		}
	}
}

// Registry tracks all registered clients keyed by participant id.
type Registry struct {
	mu          sync.Mutex
	byID        map[string]*Client
	readTimeout time.Duration
}

// Option tweaks registry behavior.
type Option func(*Registry)

// WithReadTimeout arms a rolling read deadline on every registered
// connection; zero disables deadlines (used by tests).
func WithReadTimeout(d time.Duration) Option {
	return func(r *Registry) { r.readTimeout = d }
}

// New builds an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:        make(map[string]*Client),
		readTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register issues a stable identity for the connection and starts its
// read loop. externalID is used verbatim when supplied; registering an id
// that is still live is rejected rather than superseded, so a stale tab
// cannot hijack an in-flight conversation.
func (r *Registry) Register(conn Conn, externalID string) (*Client, error) {
	id := externalID
	if id == "" {
		id = uuid.NewString()
	}

	client := &Client{
		ID:          id,
		conn:        conn,
		readTimeout: r.readTimeout,
		inbox:       make(chan []byte, 32),
		gone:        make(chan struct{}),
		stop:        make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.byID[id]; exists {
		r.mu.Unlock()
		return nil, ErrDuplicateIdentity
	}
	for _, existing := range r.byID {
		if existing.conn == conn {
			r.mu.Unlock()
			return nil, ErrAlreadyRegistered
		}
	}
	r.byID[id] = client
	r.mu.Unlock()

	go client.readLoop()

	log.Printf("[registry] registered participant=%s", id)
	return client, nil
}

// Release drops the client's registry entry and closes its connection.
// Safe to call from multiple failure paths; only the first has effect.
func (r *Registry) Release(client *Client) {
	if client == nil {
		return
	}

	r.mu.Lock()
	_, present := r.byID[client.ID]
	delete(r.byID, client.ID)
	r.mu.Unlock()

	client.close()
	if present {
		log.Printf("[registry] released participant=%s", client.ID)
	}
}

// Lookup returns the live client for a participant id.
func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.byID[id]
	return client, ok
}

// Len reports how many connections are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
