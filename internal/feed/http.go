package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chronos-radar/internal/event"
	"chronos-radar/internal/logging"
)

// NewHTTPClient returns a client with bounded dial and handshake timeouts.
// timeout of zero leaves the overall request unbounded, as long-lived
// event-stream requests need.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// HTTPQuerier pulls events from a JSON endpoint such as /api/events. The
// response is either a bare array of records or an object with an "events"
// array.
type HTTPQuerier struct {
	URL    string
	Client *http.Client
}

// NewHTTPQuerier builds a querier with its own pooled client.
func NewHTTPQuerier(rawURL string, timeout time.Duration) *HTTPQuerier {
	return &HTTPQuerier{URL: rawURL, Client: NewHTTPClient(timeout)}
}

// Fetch runs q. Records that fail to decode are skipped.
func (h *HTTPQuerier) Fetch(ctx context.Context, q Query) ([]event.RawEvent, error) {
	u, err := url.Parse(h.URL)
	if err != nil {
		return nil, fmt.Errorf("parse query url: %w", err)
	}
	v := u.Query()
	if s := sinceParam(q.Since); s != "" {
		v.Set("since", s)
	}
	if len(q.Topics) > 0 {
		v.Set("topics", strings.Join(q.Topics, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("query events: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	out := make([]event.RawEvent, 0, len(records))
	for _, rec := range records {
		ev, err := event.FromMap(rec)
		if err != nil {
			log.Debug("skipping undecodable record", "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeRecords(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		arr, ok := v["events"].([]any)
		if !ok {
			return nil, fmt.Errorf("decode events: no events array")
		}
		list = arr
	default:
		return nil, fmt.Errorf("decode events: unexpected %T", raw)
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}
