package bus

import (
	"context"
	"fmt"
	"net"

	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Client is the worker side of the bus: a single connection to the
// orchestrator's Server, used to emit lifecycle events and answer
// RPC calls the master makes into this worker.
type Client struct {
	workerID string
	peer     *peer
}

// Dial connects to the master at addr and registers as workerID. key,
// if non-nil, must match the server's AES-256-GCM key.
func Dial(ctx context.Context, network, addr, workerID string, key []byte) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s %s: %w", network, addr, err)
	}

	var enc *cryptor
	if key != nil {
		enc, err = newCryptor(key)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	fw := newFrameWriter(conn, enc)
	if err := fw.write(envelope{Kind: frameRegister, WorkerID: workerID}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	p := newPeer(workerID, conn, enc, "worker", types.SystemClock{})
	c := &Client{workerID: workerID, peer: p}
	go p.readLoop(nil)
	return c, nil
}

// RegisterHandler installs a handler for RPC calls made BY the master
// via Server.CallWorker.
func (c *Client) RegisterHandler(method string, fn HandlerFunc) {
	c.peer.RegisterHandler(method, fn)
}

// OnEvent installs the callback invoked for events sent BY the master.
func (c *Client) OnEvent(fn EventFunc) { c.peer.OnEvent(fn) }

// Call issues an RPC to the master and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (types.RawPayload, error) {
	return c.peer.Call(ctx, method, params)
}

// Emit sends a lifecycle event to the master (e.g. task_started,
// task_completed) on the channel named by event.Type.
func (c *Client) Emit(event *types.WorkerEvent) error {
	return c.peer.Emit(event)
}

// Heartbeat sends a heartbeat frame to the master.
func (c *Client) Heartbeat() error {
	return c.peer.Heartbeat()
}

// Close disconnects from the master.
func (c *Client) Close() error {
	return c.peer.Close()
}
