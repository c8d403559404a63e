package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
)

var (
	errInboxFull    = errors.New("inbox full")
	errClientClosed = errors.New("client closed")
)

var clientSeq atomic.Uint64

// Client is one live socket. Events reach it through inbox; only WritePump
// writes to Conn.
type Client struct {
	Id     string
	UserID uint
	Name   string
	Conn   ConnLike

	seq       uint64
	inbox     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

func NewClient(id string, userID uint, name string, conn ConnLike, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{
		Id:     id,
		UserID: userID,
		Name:   name,
		Conn:   conn,
		seq:    clientSeq.Add(1),
		inbox:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// deliver enqueues ev without blocking.
func (c *Client) deliver(ev Event) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.inbox <- ev:
		return nil
	default:
		return errInboxFull
	}
}

// shutdown stops WritePump. inbox is never closed, so a late deliver is harmless.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump hands every frame to handle until the transport fails.
func (c *Client) ReadPump(handle func([]byte)) error {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(data)
	}
}

// WritePump drains inbox in order. render turns an event into the frame to
// send, or nil to skip it. A write failure closes the transport so ReadPump
// returns as well.
func (c *Client) WritePump(render func(Event) any) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.inbox:
			frame := render(ev)
			if frame == nil {
				continue
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Conn.Close()
				return
			}
		}
	}
}
