package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubscriber opens a WebSocket to the event log and sends a
// subscribe frame naming the replay start and topics.
type WebSocketSubscriber struct {
	URL    string
	Topics []string
	Dialer *websocket.Dialer
}

type subscribeFrame struct {
	Type   string   `json:"type"`
	Since  string   `json:"since,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// Subscribe dials the endpoint. since is also passed as a query parameter for
// servers that ignore the subscribe frame.
func (s *WebSocketSubscriber) Subscribe(ctx context.Context, since time.Time) (Stream, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	if p := sinceParam(since); p != "" {
		q := u.Query()
		q.Set("since", p)
		u.RawQuery = q.Encode()
	}
	d := s.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	c, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	sub, _ := json.Marshal(subscribeFrame{Type: "subscribe", Since: sinceParam(since), Topics: s.Topics})
	if err := c.WriteMessage(websocket.TextMessage, sub); err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return &wsStream{conn: c, closed: make(chan struct{})}, nil
}

type wsStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func (w *wsStream) Recv() (Message, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closed:
				return Message{}, ErrClosed
			default:
			}
			return Message{}, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return DecodeFrame(data, ""), nil
	}
}

func (w *wsStream) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}
