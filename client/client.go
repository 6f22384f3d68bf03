// Package client is the sync agent embedded in one editor instance. It
// mirrors the shared document of a single session: remote updates replace
// local state wholesale, local edits apply immediately and are sent to the
// relay fire-and-forget.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/codeshare-dev/codeshare/runner"
	"github.com/codeshare-dev/codeshare/session"
)

const outboundQueueSize = 64

// Client talks to one codeshare server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu        sync.Mutex
	document  string
	sessionID string
	onChange  func(document string)
	ws        *websocket.Conn
	outbound  chan []byte
	joinOnce  *sync.Once
	joined    chan struct{}
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
}

// OnChange registers a callback fired whenever a remote update replaces the
// local document. Set it before Join. The callback must not call Edit, or it
// recreates exactly the feedback loop the protocol is designed to avoid.
func (c *Client) OnChange(fn func(document string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// CreateSession asks the lifecycle API for a fresh session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/sessions", nil)
	if err != nil {
		return "", err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != 200 {
		return "", fmt.Errorf("create session: HTTP %d", res.StatusCode)
	}
	id := gjson.GetBytes(body, "id").Str
	if id == "" {
		return "", fmt.Errorf("create session: response carries no id: %s", string(body))
	}
	return id, nil
}

// GetSession reads a session snapshot by id without joining it. Returns
// session.ErrNotFound for an unknown id.
func (c *Client) GetSession(ctx context.Context, id string) (session.Session, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return session.Session{}, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return session.Session{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return session.Session{}, err
	}
	switch res.StatusCode {
	case 200:
		parsed := gjson.ParseBytes(body)
		return session.Session{
			ID:       parsed.Get("id").Str,
			Document: parsed.Get("document").Str,
		}, nil
	case 404:
		return session.Session{}, session.ErrNotFound
	default:
		return session.Session{}, fmt.Errorf("get session: HTTP %d", res.StatusCode)
	}
}

// Join opens a relay connection for the given session id and blocks until the
// init snapshot arrives. Any previous connection is torn down first: an agent
// is in at most one session at a time.
//
// The relay silently ignores joins for unknown ids, so the only failure
// signal for a bad id is the ctx deadline.
func (c *Client) Join(ctx context.Context, sessionID string) error {
	c.Close()

	wsURL, err := c.relayURL()
	if err != nil {
		return err
	}
	ws, res, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if res != nil {
			res.Body.Close()
		}
		return fmt.Errorf("dial relay: %w", err)
	}

	joined := make(chan struct{})
	outbound := make(chan []byte, outboundQueueSize)
	c.mu.Lock()
	c.ws = ws
	c.sessionID = sessionID
	c.outbound = outbound
	c.joinOnce = &sync.Once{}
	c.joined = joined
	c.mu.Unlock()

	frame, _ := sjson.SetBytes([]byte(`{"type":"join"}`), "session_id", sessionID)
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.Close()
		return fmt.Errorf("send join: %w", err)
	}
	go c.readLoop(ws)
	go writeLoop(ws, outbound)

	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *Client) relayURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/relay"
	return u.String(), nil
}

// readLoop applies server frames to local state. It never writes to the
// socket: remote updates must not re-trigger outbound edits.
func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		parsed := gjson.ParseBytes(data)
		switch parsed.Get("type").Str {
		case "init":
			c.applyRemote(parsed.Get("document").Str)
			c.mu.Lock()
			once, joined := c.joinOnce, c.joined
			c.mu.Unlock()
			if once != nil {
				once.Do(func() {
					close(joined)
				})
			}
		case "edit":
			c.applyRemote(parsed.Get("content").Str)
		}
	}
}

// applyRemote replaces the local document wholesale with the relay's value.
func (c *Client) applyRemote(document string) {
	c.mu.Lock()
	c.document = document
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(document)
	}
}

func writeLoop(ws *websocket.Conn, outbound <-chan []byte) {
	for frame := range outbound {
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// Edit applies content locally right away and queues the edit for the relay.
// The local update never waits on the network round-trip; if the connection
// is down or the queue is full the send is dropped, which the last-write-wins
// protocol tolerates.
func (c *Client) Edit(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.document = content
	if c.outbound == nil {
		return
	}
	frame, _ := sjson.SetBytes([]byte(`{"type":"edit"}`), "session_id", c.sessionID)
	frame, _ = sjson.SetBytes(frame, "content", content)
	select {
	case c.outbound <- frame:
	default:
	}
}

// Document returns the current local copy of the shared document.
func (c *Client) Document() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

// SessionID returns the id of the joined session, or "" before any Join.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Run executes the current local document with the given runner. Output is
// local to this client; it is never sent to the relay or the other members.
func (c *Client) Run(ctx context.Context, r runner.Runner) (string, error) {
	return r.Run(ctx, c.Document())
}

// Close tears down the relay connection, if any. The client can Join again
// afterwards. Lifecycle API calls work regardless.
func (c *Client) Close() error {
	c.mu.Lock()
	ws := c.ws
	outbound := c.outbound
	c.ws = nil
	c.outbound = nil
	c.joinOnce = nil
	c.joined = nil
	c.mu.Unlock()

	if outbound != nil {
		close(outbound)
	}
	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return ws.Close()
	}
	return nil
}
