package main

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rhye/rhye-dev/internal/logx"
	"github.com/rhye/rhye-dev/internal/tabs"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 2048,
}

type snapshotMessage struct {
	Type    string     `json:"type"`
	Tabs    []tabs.Tab `json:"tabs"`
	Active  string     `json:"active"`
	Address string     `json:"address"`
}

// eventsHandler streams the page session's tab events to the renderer. A
// slow reader loses events rather than stalling the manager. The stream
// closes when its page session is replaced.
func (a *app) eventsHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	log := logx.WithSession(logx.Ctx(c.Request.Context()), sess.id)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events := make(chan tabs.Event, eventBuffer)
	var dropped atomic.Int64
	cancel := sess.manager.Subscribe(func(ev tabs.Event) {
		select {
		case events <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	m := sess.manager
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(snapshotMessage{
		Type:    "snapshot",
		Tabs:    m.Tabs(),
		Active:  m.Active(),
		Address: m.Address(),
	}); err != nil {
		return
	}
	log.Debug("event stream opened")

	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("event stream write failed", "err", err)
				return
			}
		case <-closed:
			log.Debug("event stream closed", "dropped", dropped.Load())
			return
		case <-sess.Done():
			log.Debug("event stream ended", "reason", "page session replaced")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session replaced"),
				time.Now().Add(writeTimeout))
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
