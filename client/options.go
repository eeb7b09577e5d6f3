package client

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Options tunes a Session. Zero durations, limits and dependencies take their
// DefaultOptions value.
type Options struct {
	// SentLocallyAfter promotes a message without an echo to sent-locally.
	SentLocallyAfter time.Duration
	// ErrorAfter marks a message without a successful dispatch as failed.
	ErrorAfter time.Duration
	// MatchWindow bounds the timestamp distance of a content+sender match.
	MatchWindow time.Duration
	// TemporaryTTL is how long persistent temporaries survive a refetch.
	TemporaryTTL time.Duration

	CacheLimit  int
	CacheMaxAge time.Duration

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration

	// EphemeralSends keeps outgoing messages out of the cache and drops unconfirmed
	// ones on refetch. By default they are flagged PersistLocally.
	EphemeralSends bool

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

func DefaultOptions() Options {
	return Options{
		SentLocallyAfter:  3 * time.Second,
		ErrorAfter:        5 * time.Second,
		MatchWindow:       10 * time.Second,
		TemporaryTTL:      5 * time.Minute,
		CacheLimit:        50,
		CacheMaxAge:       time.Hour,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		HandshakeTimeout:  10 * time.Second,
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:               time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SentLocallyAfter <= 0 {
		o.SentLocallyAfter = d.SentLocallyAfter
	}
	if o.ErrorAfter <= 0 {
		o.ErrorAfter = d.ErrorAfter
	}
	if o.MatchWindow <= 0 {
		o.MatchWindow = d.MatchWindow
	}
	if o.TemporaryTTL <= 0 {
		o.TemporaryTTL = d.TemporaryTTL
	}
	if o.CacheLimit <= 0 {
		o.CacheLimit = d.CacheLimit
	}
	if o.CacheMaxAge <= 0 {
		o.CacheMaxAge = d.CacheMaxAge
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = d.ReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = d.HTTPClient
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}
