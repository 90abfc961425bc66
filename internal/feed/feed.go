// Package feed connects to the event log: push subscriptions carrying live
// events and heartbeats, and a pull query used for replay and polling.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chronos-radar/internal/event"
)

// Message is one item read off a push stream. Err is set when the frame
// could not be decoded; the stream itself is still healthy.
type Message struct {
	Heartbeat bool
	Event     event.RawEvent
	Err       error
}

// Stream is an open push subscription. Recv blocks until the next message
// and returns an error once the transport fails or Close is called.
type Stream interface {
	Recv() (Message, error)
	Close() error
}

// Subscriber opens push subscriptions starting at since.
type Subscriber interface {
	Subscribe(ctx context.Context, since time.Time) (Stream, error)
}

// Query selects events from the log. Zero fields mean no constraint.
type Query struct {
	Since  time.Time
	Topics []string
	Limit  int
}

// Querier runs pull queries against the log.
type Querier interface {
	Fetch(ctx context.Context, q Query) ([]event.RawEvent, error)
}

// ErrClosed is returned by Recv after Close.
var ErrClosed = errors.New("stream closed")

// DecodeFrame turns one pushed JSON frame into a Message. Heartbeats are
// frames whose type is heartbeat or ping. Event frames may wrap the record
// under "data" or "event". fallbackTopic is used when the record carries none.
func DecodeFrame(data []byte, fallbackTopic string) Message {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Message{Heartbeat: true}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return Message{Err: fmt.Errorf("%w: undecodable frame", event.ErrMalformed)}
	}
	switch strings.ToLower(event.String(doc, "type")) {
	case "heartbeat", "ping", "keepalive":
		return Message{Heartbeat: true}
	}
	if _, ok := doc["heartbeat"]; ok && len(doc) == 1 {
		return Message{Heartbeat: true}
	}
	body := doc
	if event.String(doc, "topic") == "" && doc["payload"] == nil {
		if inner := event.Map(doc, "data", "event"); inner != nil {
			body = inner
		}
	}
	if event.String(body, "topic") == "" && fallbackTopic != "" {
		body = withTopic(body, fallbackTopic)
	}
	ev, err := event.FromMap(body)
	if err != nil {
		return Message{Err: err}
	}
	return Message{Event: ev}
}

func withTopic(m map[string]any, topic string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["topic"] = topic
	return out
}

func sinceParam(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return since.UTC().Format(time.RFC3339)
}
