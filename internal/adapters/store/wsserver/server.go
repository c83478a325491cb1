// Package wsserver serves a shared document store to remote peers over
// websocket. Every connected client sees the same tree; watch events fan
// out to whoever subscribed.
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/adapters/store/wsproto"
	"github.com/dkeye/dial/internal/core"
)

var ErrBackpressure = errors.New("client send queue full")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller upgrades websocket clients and bridges their requests onto
// the backing store.
type Controller struct {
	Store core.Store
}

type clientConn struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once

	mu      sync.Mutex
	watches map[uint64]func()
}

func (c *clientConn) TrySend(b []byte) error {
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *clientConn) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

func (c *clientConn) addWatch(id uint64, un func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.watches[id]; ok {
		old()
	}
	c.watches[id] = un
}

func (c *clientConn) dropWatch(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if un, ok := c.watches[id]; ok {
		un()
		delete(c.watches, id)
	}
}

func (c *clientConn) dropAllWatches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, un := range c.watches {
		un()
		delete(c.watches, id)
	}
}

func (ctl *Controller) HandleStore(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "wsserver").Str("sid", sid).Msg("new store client")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "wsserver").Msg("ws upgrade")
		return
	}

	conn := &clientConn{
		conn:    ws,
		send:    make(chan []byte, 256),
		watches: make(map[uint64]func()),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *clientConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid string, c *clientConn) {
	defer func() {
		log.Info().Str("module", "wsserver").Str("sid", sid).Msg("store client gone")
		c.dropAllWatches()
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleRequest(ctx, c, data)
		}
	}
}

func (ctl *Controller) reply(c *clientConn, resp wsproto.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("module", "wsserver").Msg("marshal response")
		return
	}
	if err := c.TrySend(b); err != nil {
		// A client that cannot drain its queue would silently miss watch
		// events; dropping the connection is the lesser evil.
		log.Warn().Err(err).Str("module", "wsserver").Msg("kicking slow client")
		c.Close()
	}
}

func (ctl *Controller) replyErr(c *clientConn, id uint64, err error) {
	ctl.reply(c, wsproto.Response{ID: id, Error: err.Error()})
}

func (ctl *Controller) handleRequest(ctx context.Context, c *clientConn, data []byte) {
	var req wsproto.Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("module", "wsserver").Msg("bad request json")
		return
	}

	switch req.Op {
	case wsproto.OpGet:
		snap, err := ctl.Store.Get(ctx, req.Path)
		if err != nil {
			ctl.replyErr(c, req.ID, err)
			return
		}
		ctl.reply(c, wsproto.Response{ID: req.ID, OK: true, Value: rawOrNull(snap)})
	case wsproto.OpSet:
		if err := ctl.Store.Set(ctx, req.Path, req.Value); err != nil {
			ctl.replyErr(c, req.ID, err)
			return
		}
		ctl.reply(c, wsproto.Response{ID: req.ID, OK: true})
	case wsproto.OpUpdate:
		fields := make(map[string]any, len(req.Fields))
		for k, v := range req.Fields {
			fields[k] = v
		}
		if err := ctl.Store.Update(ctx, req.Path, fields); err != nil {
			ctl.replyErr(c, req.ID, err)
			return
		}
		ctl.reply(c, wsproto.Response{ID: req.ID, OK: true})
	case wsproto.OpDelete:
		if err := ctl.Store.Delete(ctx, req.Path); err != nil {
			ctl.replyErr(c, req.ID, err)
			return
		}
		ctl.reply(c, wsproto.Response{ID: req.ID, OK: true})
	case wsproto.OpPush:
		key, err := ctl.Store.Push(ctx, req.Path, req.Value)
		if err != nil {
			ctl.replyErr(c, req.ID, err)
			return
		}
		ctl.reply(c, wsproto.Response{ID: req.ID, OK: true, Key: key})
	case wsproto.OpCAS:
		ctl.handleCAS(ctx, c, req)
	case wsproto.OpWatch:
		ctl.handleWatch(ctx, c, req)
	case wsproto.OpUnwatch:
		c.dropWatch(req.Watch)
		ctl.reply(c, wsproto.Response{ID: req.ID, OK: true})
	default:
		log.Warn().Str("module", "wsserver").Str("op", req.Op).Msg("unknown op")
	}
}

// handleCAS commits req.Value at req.Path iff the current value equals
// req.Expect. This is the single-key compare-and-set clients build
// Transact on.
func (ctl *Controller) handleCAS(ctx context.Context, c *clientConn, req wsproto.Request) {
	committed, err := ctl.Store.Transact(ctx, req.Path, func(cur core.Snapshot) (any, bool) {
		if !jsonEqual(rawOrNull(cur), rawOrNull(core.Snapshot(req.Expect))) {
			return nil, false
		}
		if isNull(req.Value) {
			return nil, true
		}
		return req.Value, true
	})
	if err != nil {
		ctl.replyErr(c, req.ID, err)
		return
	}
	ctl.reply(c, wsproto.Response{ID: req.ID, OK: true, Committed: committed})
}

func (ctl *Controller) handleWatch(ctx context.Context, c *clientConn, req wsproto.Request) {
	watchID := req.Watch
	un, err := ctl.Store.Watch(ctx, req.Path, func(snap core.Snapshot) {
		ctl.reply(c, wsproto.Response{
			Event: wsproto.EventValue,
			Watch: watchID,
			Value: rawOrNull(snap),
		})
	})
	if err != nil {
		ctl.replyErr(c, req.ID, err)
		return
	}
	c.addWatch(watchID, un)
	ctl.reply(c, wsproto.Response{ID: req.ID, OK: true, Watch: watchID})
}

func rawOrNull(s core.Snapshot) json.RawMessage {
	if !s.Exists() {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// jsonEqual compares two JSON documents structurally, so key order never
// breaks a CAS precondition.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
