package feed

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SSESubscriber reads a text/event-stream endpoint such as
// /api/events/stream?since=. Comment lines and "heartbeat" events count as
// heartbeats; "data:" lines carry JSON records.
type SSESubscriber struct {
	URL    string
	Client *http.Client
}

func (s *SSESubscriber) Subscribe(ctx context.Context, since time.Time) (Stream, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	if p := sinceParam(since); p != "" {
		q := u.Query()
		q.Set("since", p)
		u.RawQuery = q.Encode()
	}
	// The request outlives ctx, which only bounds connection setup.
	reqCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	client := s.Client
	if client == nil {
		client = NewHTTPClient(0)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := client.Do(req)
		ch <- result{resp, err}
	}()
	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		cancel()
		if r := <-ch; r.resp != nil {
			r.resp.Body.Close()
		}
		return nil, ctx.Err()
	}
	if res.err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", res.err)
	}
	if res.resp.StatusCode != http.StatusOK {
		res.resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open event stream: unexpected status %s", res.resp.Status)
	}
	sc := bufio.NewScanner(res.resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &sseStream{resp: res.resp, cancel: cancel, scanner: sc, closed: make(chan struct{})}, nil
}

type sseStream struct {
	resp      *http.Response
	cancel    context.CancelFunc
	scanner   *bufio.Scanner
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *sseStream) Recv() (Message, error) {
	var name string
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 && name == "" {
				continue
			}
			if strings.EqualFold(name, "heartbeat") || strings.EqualFold(name, "ping") {
				return Message{Heartbeat: true}, nil
			}
			return DecodeFrame([]byte(strings.Join(data, "\n")), ""), nil
		case strings.HasPrefix(line, ":"):
			return Message{Heartbeat: true}, nil
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	select {
	case <-s.closed:
		return Message{}, ErrClosed
	default:
	}
	if err := s.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, fmt.Errorf("event stream ended")
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.resp.Body.Close()
	})
	return err
}
