// Package ws implements core.Store against a wsserver gateway, so two
// peers on different machines share one document tree.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	storeadapter "github.com/dkeye/dial/internal/adapters/store"
	"github.com/dkeye/dial/internal/adapters/store/wsproto"
	"github.com/dkeye/dial/internal/core"
)

var ErrClosed = errors.New("store connection closed")

// casAttempts bounds the optimistic retry loop inside Transact; callers
// with their own retry policy (the identifier allocator) sit above this.
const casAttempts = 32

type Client struct {
	conn *websocket.Conn
	once sync.Once

	mu        sync.Mutex
	pending   map[uint64]chan wsproto.Response
	watches   map[uint64]*storeadapter.EventQueue
	nextID    uint64
	nextWatch uint64

	sendMu sync.Mutex
	closed chan struct{}
}

var _ core.Store = (*Client)(nil)

// Dial connects to the gateway at url (ws://host:port/api/ws/store).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial store gateway: %w", err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan wsproto.Response),
		watches: make(map[uint64]*storeadapter.EventQueue),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	log.Info().Str("module", "store.ws").Str("url", url).Msg("connected to store gateway")
	return c, nil
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer func() {
		c.Close()
		c.mu.Lock()
		for id, ch := range c.pending {
			ch <- wsproto.Response{Error: ErrClosed.Error()}
			delete(c.pending, id)
		}
		for id, q := range c.watches {
			q.Close()
			delete(c.watches, id)
		}
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var resp wsproto.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warn().Err(err).Str("module", "store.ws").Msg("bad response json")
			continue
		}
		if resp.Event == wsproto.EventValue {
			c.mu.Lock()
			q, ok := c.watches[resp.Watch]
			c.mu.Unlock()
			if ok {
				q.Enqueue(toSnapshot(resp.Value))
			}
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
		}
	}
}

func (c *Client) request(ctx context.Context, req wsproto.Request) (wsproto.Response, error) {
	c.mu.Lock()
	c.nextID++
	req.ID = c.nextID
	ch := make(chan wsproto.Response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	b, err := json.Marshal(req)
	if err != nil {
		c.dropPending(req.ID)
		return wsproto.Response{}, fmt.Errorf("marshal request: %w", err)
	}
	c.sendMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = c.conn.WriteMessage(websocket.TextMessage, b)
	c.sendMu.Unlock()
	if err != nil {
		c.dropPending(req.ID)
		return wsproto.Response{}, fmt.Errorf("send %s: %w", req.Op, err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(req.ID)
		return wsproto.Response{}, ctx.Err()
	case <-c.closed:
		return wsproto.Response{}, ErrClosed
	case resp := <-ch:
		if resp.Error != "" {
			return wsproto.Response{}, fmt.Errorf("%s %s: %s", req.Op, req.Path, resp.Error)
		}
		return resp, nil
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Get(ctx context.Context, path string) (core.Snapshot, error) {
	resp, err := c.request(ctx, wsproto.Request{Op: wsproto.OpGet, Path: path})
	if err != nil {
		return nil, err
	}
	return toSnapshot(resp.Value), nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	_, err = c.request(ctx, wsproto.Request{Op: wsproto.OpSet, Path: path, Value: raw})
	return err
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	enc := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s.%s: %w", path, k, err)
		}
		enc[k] = raw
	}
	_, err := c.request(ctx, wsproto.Request{Op: wsproto.OpUpdate, Path: path, Fields: enc})
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.request(ctx, wsproto.Request{Op: wsproto.OpDelete, Path: path})
	return err
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", path, err)
	}
	resp, err := c.request(ctx, wsproto.Request{Op: wsproto.OpPush, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

// Watch registers the queue before the subscribe request goes out, so the
// initial event cannot race past an unregistered watch id.
func (c *Client) Watch(ctx context.Context, path string, fn core.WatchFunc) (func(), error) {
	q := storeadapter.NewEventQueue(fn)
	c.mu.Lock()
	c.nextWatch++
	watchID := c.nextWatch
	c.watches[watchID] = q
	c.mu.Unlock()

	if _, err := c.request(ctx, wsproto.Request{Op: wsproto.OpWatch, Path: path, Watch: watchID}); err != nil {
		c.mu.Lock()
		delete(c.watches, watchID)
		c.mu.Unlock()
		q.Close()
		return nil, err
	}

	return func() {
		c.mu.Lock()
		if q, ok := c.watches[watchID]; ok {
			delete(c.watches, watchID)
			q.Close()
		}
		c.mu.Unlock()
		unctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.request(unctx, wsproto.Request{Op: wsproto.OpUnwatch, Watch: watchID}); err != nil {
			log.Debug().Err(err).Str("module", "store.ws").Str("path", path).Msg("unwatch failed")
		}
	}, nil
}

// Transact emulates the gateway's single-key CAS with an optimistic
// read-compare-swap loop.
func (c *Client) Transact(ctx context.Context, path string, fn core.TxnFunc) (bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, err := c.Get(ctx, path)
		if err != nil {
			return false, err
		}
		next, commit := fn(cur)
		if !commit {
			return false, nil
		}
		nextRaw := json.RawMessage("null")
		if next != nil {
			nextRaw, err = json.Marshal(next)
			if err != nil {
				return false, fmt.Errorf("marshal %s: %w", path, err)
			}
		}
		expect := json.RawMessage("null")
		if cur.Exists() {
			expect = json.RawMessage(cur)
		}
		resp, err := c.request(ctx, wsproto.Request{Op: wsproto.OpCAS, Path: path, Expect: expect, Value: nextRaw})
		if err != nil {
			return false, err
		}
		if resp.Committed {
			return true, nil
		}
		// Lost the race; re-read and re-run fn against the new value.
	}
	return false, fmt.Errorf("transact %s: too much contention", path)
}

func toSnapshot(raw json.RawMessage) core.Snapshot {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return core.Snapshot(raw)
}
