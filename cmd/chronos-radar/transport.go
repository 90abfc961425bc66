package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"chronos-radar/internal/config"
	"chronos-radar/internal/feed"
)

// newSubscriber picks the push transport named by the config.
func newSubscriber(cfg *config.Config) (feed.Subscriber, error) {
	s := cfg.Stream
	switch s.Transport {
	case config.TransportWebSocket:
		if s.URL == "" {
			return nil, fmt.Errorf("stream.url required for %s transport", s.Transport)
		}
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = s.ConnectTimeout
		return &feed.WebSocketSubscriber{URL: s.URL, Topics: cfg.Topics, Dialer: &d}, nil
	case config.TransportSSE:
		if s.URL == "" {
			return nil, fmt.Errorf("stream.url required for %s transport", s.Transport)
		}
		// No client timeout: the response body stays open for the whole stream.
		return &feed.SSESubscriber{URL: s.URL, Client: feed.NewHTTPClient(0)}, nil
	case config.TransportKafka:
		return &feed.KafkaSubscriber{Brokers: s.Brokers, Topic: s.KafkaTopic}, nil
	default:
		return nil, fmt.Errorf("unknown stream transport %q", s.Transport)
	}
}

// newQuerier builds the pull client used for replay and degraded polling.
func newQuerier(cfg *config.Config) (feed.Querier, error) {
	u := cfg.Poll.URL
	if u == "" {
		var err error
		if u, err = pollURLFromStream(cfg.Stream.URL); err != nil {
			return nil, err
		}
	}
	return feed.NewHTTPQuerier(u, cfg.Poll.Timeout), nil
}

// pollURLFromStream guesses the query endpoint when only the stream URL is
// configured: ws://host/api/events/ws and http://host/api/events/stream both
// map to http://host/api/events.
func pollURLFromStream(stream string) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("poll.url required")
	}
	u, err := url.Parse(stream)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("poll.url required for stream scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/ws"), "/stream")
	u.RawQuery = ""
	return u.String(), nil
}
