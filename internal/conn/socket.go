package conn

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketWriteWait = 10 * time.Second
	socketPongWait  = 60 * time.Second
	socketPingEvery = (socketPongWait * 9) / 10
)

type taskEventKind int

const (
	taskOpened taskEventKind = iota
	taskFrame
	taskWriteFailed
	taskClosed
)

// taskEvent is everything a socket task reports back to the manager. Gen
// identifies the attempt; the manager drops events of superseded attempts.
type taskEvent struct {
	gen  uint64
	kind taskEventKind
	data []byte
	err  error
}

// socketTask owns one connection attempt.
type socketTask struct {
	gen    uint64
	out    chan []byte
	cancel context.CancelFunc
}

func startSocketTask(parent context.Context, gen uint64, buffer int, dialer *websocket.Dialer, url string, header http.Header, report func(taskEvent)) *socketTask {
	ctx, cancel := context.WithCancel(parent)
	t := &socketTask{gen: gen, out: make(chan []byte, buffer), cancel: cancel}
	go t.run(ctx, dialer, url, header, report)
	return t
}

// send hands data to the writer without blocking.
func (t *socketTask) send(data []byte) bool {
	select {
	case t.out <- data:
		return true
	default:
		return false
	}
}

func (t *socketTask) close() { t.cancel() }

func (t *socketTask) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, report func(taskEvent)) {
	c, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		report(taskEvent{gen: t.gen, kind: taskClosed, err: err})
		return
	}
	defer c.Close()

	if err := c.SetReadDeadline(time.Now().Add(socketPongWait)); err != nil {
		report(taskEvent{gen: t.gen, kind: taskClosed, err: err})
		return
	}
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	go t.write(ctx, c, report)

	report(taskEvent{gen: t.gen, kind: taskOpened})
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			t.cancel()
			t.drain(report)
			report(taskEvent{gen: t.gen, kind: taskClosed, err: err})
			return
		}
		report(taskEvent{gen: t.gen, kind: taskFrame, data: data})
	}
}

// drain hands unwritten frames back so the manager can queue them again.
func (t *socketTask) drain(report func(taskEvent)) {
	for {
		select {
		case data := <-t.out:
			report(taskEvent{gen: t.gen, kind: taskWriteFailed, data: data})
		default:
			return
		}
	}
}

func (t *socketTask) write(ctx context.Context, c *websocket.Conn, report func(taskEvent)) {
	ticker := time.NewTicker(socketPingEvery)
	defer ticker.Stop()
	fail := func(data []byte, err error) {
		t.cancel()
		if data != nil {
			report(taskEvent{gen: t.gen, kind: taskWriteFailed, data: data, err: err})
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-t.out:
			if err := c.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
				fail(data, err)
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				fail(data, err)
				return
			}
		case <-ticker.C:
			if err := c.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
				fail(nil, err)
				return
			}
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				fail(nil, err)
				return
			}
		}
	}
}
