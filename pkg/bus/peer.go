package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// HandlerFunc answers an incoming RPC request and returns the result
// payload, or an error to be reported back to the caller.
type HandlerFunc func(ctx context.Context, params types.RawPayload) (types.RawPayload, error)

// EventFunc receives events emitted by the remote side.
type EventFunc func(event *types.WorkerEvent)

// peer is the connection-level machinery shared by Server-side worker
// connections and the Client. It owns the framing, the correlation-id
// pending table for outstanding Calls, and dispatch of inbound
// requests/events to registered callbacks.
type peer struct {
	id   string
	conn net.Conn
	fw   *frameWriter
	fr   *frameReader

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	onEvent  EventFunc

	pendingMu sync.Mutex
	pending   map[string]chan *types.RPCResponse

	side       string // "master" or "worker", for metrics labels
	closed     chan struct{}
	closeOnce  sync.Once
	clock      types.Clock
}

func newPeer(id string, conn net.Conn, enc *cryptor, side string, clock types.Clock) *peer {
	if clock == nil {
		clock = types.SystemClock{}
	}
	p := &peer{
		id:       id,
		conn:     conn,
		fw:       newFrameWriter(conn, enc),
		fr:       newFrameReader(conn, enc),
		handlers: make(map[string]HandlerFunc),
		pending:  make(map[string]chan *types.RPCResponse),
		side:     side,
		closed:   make(chan struct{}),
		clock:    clock,
	}
	return p
}

// RegisterHandler installs fn to answer inbound RPC calls for method.
func (p *peer) RegisterHandler(method string, fn HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = fn
}

// OnEvent installs fn to receive inbound events.
func (p *peer) OnEvent(fn EventFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvent = fn
}

// Call sends an RPC request and blocks until a response arrives or ctx
// is done. The correlation id is removed from the pending table in
// every exit path, so a timed-out call never leaks.
func (p *peer) Call(ctx context.Context, method string, params interface{}) (types.RawPayload, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("bus: marshal params: %w", err)
	}
	id := uuid.NewString()
	req := &types.RPCRequest{ID: id, Method: method, Params: raw, Timestamp: p.clock.Now()}

	ch := make(chan *types.RPCResponse, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	metrics.RPCPendingRequests.WithLabelValues(p.side).Set(float64(len(p.pending)))
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		metrics.RPCPendingRequests.WithLabelValues(p.side).Set(float64(len(p.pending)))
		p.pendingMu.Unlock()
	}()

	if err := p.fw.write(envelope{Kind: frameRPCRequest, WorkerID: p.id, Request: req}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("bus: remote error: %s", resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		metrics.RPCTimeoutsTotal.Inc()
		return nil, fmt.Errorf("bus: call %s timed out: %w", method, ctx.Err())
	case <-p.closed:
		return nil, fmt.Errorf("bus: connection closed while waiting for %s", method)
	}
}

// Emit sends a fire-and-forget event to the remote side.
func (p *peer) Emit(event *types.WorkerEvent) error {
	return p.fw.write(envelope{Kind: frameEvent, WorkerID: p.id, Event: event})
}

// Heartbeat sends a heartbeat frame.
func (p *peer) Heartbeat() error {
	return p.fw.write(envelope{Kind: frameHeartbeat, WorkerID: p.id})
}

// readLoop consumes frames until the connection closes or errors,
// dispatching requests to handlers, responses to waiting Calls, and
// events/heartbeats to the installed callbacks. onHeartbeat may be nil.
func (p *peer) readLoop(onHeartbeat func()) error {
	defer p.Close()
	for {
		env, err := p.fr.read()
		if err != nil {
			return err
		}
		switch env.Kind {
		case frameRPCRequest:
			go p.handleRequest(env.Request)
		case frameRPCResponse:
			p.pendingMu.Lock()
			ch, ok := p.pending[env.Response.ID]
			p.pendingMu.Unlock()
			if ok {
				ch <- env.Response
			}
		case frameEvent:
			p.mu.RLock()
			fn := p.onEvent
			p.mu.RUnlock()
			if fn != nil {
				fn(env.Event)
			}
		case frameHeartbeat:
			if onHeartbeat != nil {
				onHeartbeat()
			}
		}
	}
}

func (p *peer) handleRequest(req *types.RPCRequest) {
	p.mu.RLock()
	fn, ok := p.handlers[req.Method]
	p.mu.RUnlock()

	resp := &types.RPCResponse{ID: req.ID, Timestamp: p.clock.Now()}
	if !ok {
		resp.Error = fmt.Sprintf("bus: no handler for method %q", req.Method)
	} else {
		ctx := context.Background()
		result, err := fn(ctx, req.Params)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
	}
	_ = p.fw.write(envelope{Kind: frameRPCResponse, WorkerID: p.id, Response: resp})
}

// Close closes the underlying connection and releases any Calls
// blocked waiting on it. Idempotent.
func (p *peer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return p.conn.Close()
}
