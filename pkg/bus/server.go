package bus

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Server is the master side of the bus: it accepts one connection per
// worker, each identified by a register frame sent immediately after
// dial, and lets the orchestrator call into workers or broadcast
// events to all of them.
type Server struct {
	ln  net.Listener
	enc *cryptor

	mu      sync.RWMutex
	peers   map[string]*peer
	onEvent EventFunc
	onConnect    func(workerID string)
	onDisconnect func(workerID string)
	handlers     map[string]HandlerFunc

	clock types.Clock
}

// NewServer constructs a bus server. key, if non-nil, must be 32
// bytes and enables AES-256-GCM payload encryption.
func NewServer(key []byte) (*Server, error) {
	var enc *cryptor
	if key != nil {
		var err error
		enc, err = newCryptor(key)
		if err != nil {
			return nil, err
		}
	}
	return &Server{
		enc:      enc,
		peers:    make(map[string]*peer),
		handlers: make(map[string]HandlerFunc),
		clock:    types.SystemClock{},
	}, nil
}

// OnEvent installs the callback invoked for every event received from
// any worker.
func (s *Server) OnEvent(fn EventFunc) { s.mu.Lock(); s.onEvent = fn; s.mu.Unlock() }

// OnConnect installs the callback invoked when a worker registers.
func (s *Server) OnConnect(fn func(workerID string)) { s.mu.Lock(); s.onConnect = fn; s.mu.Unlock() }

// OnDisconnect installs the callback invoked when a worker's
// connection drops.
func (s *Server) OnDisconnect(fn func(workerID string)) { s.mu.Lock(); s.onDisconnect = fn; s.mu.Unlock() }

// RegisterHandler installs a handler for RPC calls made BY workers
// (e.g. a worker querying orchestrator state mid-task).
func (s *Server) RegisterHandler(method string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
}

// Serve listens on addr (host:port for TCP, or a filesystem path for
// a Unix socket when network is "unix") and accepts worker
// connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("bus: listen on %s %s: %w", network, addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts worker connections on a caller-supplied
// listener until ctx is cancelled. Useful for tests that need the
// bound ephemeral address before Serve starts accepting.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.ln = ln
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("bus: accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	fr := newFrameReader(conn, s.enc)
	env, err := fr.read()
	if err != nil || env.Kind != frameRegister {
		log.Errorf("bus: peer did not register", fmt.Errorf("first frame was %q (err=%v)", env.Kind, err))
		_ = conn.Close()
		return
	}
	workerID := env.WorkerID

	p := newPeer(workerID, conn, s.enc, "master", s.clock)
	s.mu.Lock()
	for method, fn := range s.handlers {
		p.RegisterHandler(method, fn)
	}
	onEvent := s.onEvent
	onConnect := s.onConnect
	onDisconnect := s.onDisconnect
	s.peers[workerID] = p
	s.mu.Unlock()

	if onEvent != nil {
		p.OnEvent(onEvent)
	}
	if onConnect != nil {
		onConnect(workerID)
	}

	_ = p.readLoop(nil)

	s.mu.Lock()
	delete(s.peers, workerID)
	s.mu.Unlock()
	if onDisconnect != nil {
		onDisconnect(workerID)
	}
}

// CallWorker issues an RPC to the named worker and waits for its response.
func (s *Server) CallWorker(ctx context.Context, workerID, method string, params interface{}) (types.RawPayload, error) {
	s.mu.RLock()
	p, ok := s.peers[workerID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bus: no connected worker %s", workerID)
	}
	return p.Call(ctx, method, params)
}

// SendTo emits an event to a single worker.
func (s *Server) SendTo(workerID string, event *types.WorkerEvent) error {
	s.mu.RLock()
	p, ok := s.peers[workerID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bus: no connected worker %s", workerID)
	}
	return p.Emit(event)
}

// Broadcast emits an event to every connected worker, collecting any
// per-worker send errors rather than stopping at the first.
func (s *Server) Broadcast(event *types.WorkerEvent) error {
	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	var errs []error
	for _, p := range peers {
		if err := p.Emit(event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("bus: broadcast encountered %d error(s): %v", len(errs), errs)
	}
	return nil
}

// Connected reports whether workerID currently has a live connection.
func (s *Server) Connected(workerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[workerID]
	return ok
}

// ConnectedWorkers returns the ids of all currently connected workers.
func (s *Server) ConnectedWorkers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// Close shuts down the listener and every connected peer.
func (s *Server) Close() error {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		_ = p.Close()
	}
	return nil
}
