package vmservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trailofbits/dartcov/logging"
)

// connectRetryInterval is the fixed interval (no backoff) at which Connect retries a failed
// dial. The VM Service opens its websocket endpoint
// only once the target isolate group has started, so the first several attempts are expected
// to fail immediately after process launch.
const connectRetryInterval = 200 * time.Millisecond

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope. Result is left raw so each call site can
// decode it into the shape it expects.
type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("vm service error %d: %s", e.Code, e.Message)
}

// Client is a VmService implementation backed by a VM Service websocket connection.
type Client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan rpcResponse
	closed  bool

	readErr  error
	closedCh chan struct{}
}

// Connect dials the VM Service at serviceURI, retrying every connectRetryInterval until either
// the connection succeeds or timeout elapses. serviceURI may be given as an http(s) observatory
// URI (rewritten to ws/wss with a trailing "/ws" path segment) or already as a ws(s) URI.
func Connect(ctx context.Context, serviceURI string, timeout time.Duration) (*Client, error) {
	target, err := toWebSocketURI(serviceURI)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err == nil {
			client := &Client{
				conn:     conn,
				pending:  make(map[string]chan rpcResponse),
				closedCh: make(chan struct{}),
			}
			go client.readLoop()
			return client, nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return nil, errors.Wrap(ErrConnectTimeout, lastErr.Error())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryInterval):
		}
	}
}

// toWebSocketURI rewrites an http(s) observatory URI into the ws(s) URI the VM Service listens
// on. URIs already using the ws(s) scheme keep their scheme. In both cases a "/ws" path segment
// is appended unless the path already ends with it.
func toWebSocketURI(serviceURI string) (string, error) {
	u, err := url.Parse(serviceURI)
	if err != nil {
		return "", errors.Wrapf(err, "parsing VM service URI %q", serviceURI)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket URI
	default:
		return "", errors.Errorf("unsupported VM service URI scheme %q", u.Scheme)
	}

	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}

	return u.String(), nil
}

// readLoop dispatches incoming responses to the channel registered for their request ID. It
// exits, recording readErr, once the connection is closed or a read fails.
func (c *Client) readLoop() {
	defer close(c.closedCh)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			vmserviceLogger.Warn(fmt.Sprintf("discarding unparseable VM service message: %v", err))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// call issues a JSON-RPC request and blocks for its matching response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("vm service client is closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding request for %s", method)
	}

	c.mu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, payload)
	c.mu.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.Wrapf(writeErr, "writing request for %s", method)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			if c.readErr != nil {
				return nil, errors.Wrapf(c.readErr, "connection closed waiting for %s", method)
			}
			return nil, errors.Errorf("connection closed waiting for %s", method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// decodeResult unmarshals raw into an object of type T, first checking for a Sentinel
// discriminator and returning a *SentinelError when one is present.
func decodeResult[T any](raw json.RawMessage) (T, error) {
	var zero T

	var discriminator struct {
		Type string `json:"type"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &discriminator); err == nil && discriminator.Type == "Sentinel" {
		return zero, &SentinelError{Kind: discriminator.Kind}
	}

	if err := json.Unmarshal(raw, &zero); err != nil {
		return zero, errors.Wrap(err, "decoding VM service response")
	}
	return zero, nil
}

// GetVersion implements VmService.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	raw, err := c.call(ctx, "getVersion", nil)
	if err != nil {
		return "", err
	}
	v, err := decodeResult[wireVersion](raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor), nil
}

// GetVM implements VmService.
func (c *Client) GetVM(ctx context.Context) (VM, error) {
	raw, err := c.call(ctx, "getVM", nil)
	if err != nil {
		return VM{}, err
	}
	v, err := decodeResult[wireVM](raw)
	if err != nil {
		return VM{}, err
	}
	return v.toVM(), nil
}

// GetIsolate implements VmService.
func (c *Client) GetIsolate(ctx context.Context, isolateID string) (Isolate, error) {
	raw, err := c.call(ctx, "getIsolate", map[string]any{"isolateId": isolateID})
	if err != nil {
		return Isolate{}, err
	}
	v, err := decodeResult[wireIsolate](raw)
	if err != nil {
		return Isolate{}, err
	}
	return v.toIsolate(), nil
}

// GetIsolateGroup implements VmService.
func (c *Client) GetIsolateGroup(ctx context.Context, groupID string) (IsolateGroup, error) {
	raw, err := c.call(ctx, "getIsolateGroup", map[string]any{"isolateGroupId": groupID})
	if err != nil {
		return IsolateGroup{}, err
	}
	v, err := decodeResult[wireIsolateGroup](raw)
	if err != nil {
		return IsolateGroup{}, err
	}
	return v.toIsolateGroup(), nil
}

// GetScripts implements VmService.
func (c *Client) GetScripts(ctx context.Context, isolateID string) ([]ScriptRef, error) {
	raw, err := c.call(ctx, "getScripts", map[string]any{"isolateId": isolateID})
	if err != nil {
		return nil, err
	}
	v, err := decodeResult[wireScriptList](raw)
	if err != nil {
		return nil, err
	}
	refs := make([]ScriptRef, 0, len(v.Scripts))
	for _, s := range v.Scripts {
		refs = append(refs, s.toScriptRef())
	}
	return refs, nil
}

// GetObject implements VmService. The response's "type" field is decoded into Object.Type and
// the full tree is retained in Object.Raw for callers to peek at with FieldString/FieldSlice.
func (c *Client) GetObject(ctx context.Context, isolateID, objectID string) (Object, error) {
	raw, err := c.call(ctx, "getObject", map[string]any{"isolateId": isolateID, "objectId": objectID})
	if err != nil {
		return Object{}, err
	}

	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return Object{}, errors.Wrap(err, "decoding getObject response")
	}

	typ, _ := tree["type"].(string)
	if typ == "Sentinel" {
		kind, _ := tree["kind"].(string)
		return Object{}, &SentinelError{Kind: kind}
	}

	return Object{Type: typ, Raw: tree}, nil
}

// GetSourceReport implements VmService.
func (c *Client) GetSourceReport(ctx context.Context, isolateID string, kinds []string, opts SourceReportOptions) (SourceReport, error) {
	params := map[string]any{
		"isolateId":    isolateID,
		"reports":      kinds,
		"forceCompile": opts.ForceCompile,
		"reportLines":  opts.ReportLines,
	}
	if opts.ScriptID != "" {
		params["scriptId"] = opts.ScriptID
	}
	if len(opts.LibraryFilters) > 0 {
		params["libraryFilters"] = opts.LibraryFilters
	}
	if len(opts.LibrariesAlreadyCompiled) > 0 {
		params["librariesAlreadyCompiled"] = opts.LibrariesAlreadyCompiled
	}

	raw, err := c.call(ctx, "getSourceReport", params)
	if err != nil {
		return SourceReport{}, err
	}
	v, err := decodeResult[wireSourceReport](raw)
	if err != nil {
		return SourceReport{}, err
	}
	return v.toSourceReport(), nil
}

// Resume implements VmService.
func (c *Client) Resume(ctx context.Context, isolateID string) error {
	_, err := c.call(ctx, "resume", map[string]any{"isolateId": isolateID})
	if err != nil && isSentinel(err) {
		// the isolate already exited or was collected; nothing left to resume
		return nil
	}
	return err
}

// Dispose implements VmService, closing the underlying websocket connection.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	return c.conn.Close()
}
