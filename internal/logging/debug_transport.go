package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs every HTTP exchange a storage backend makes.
type DebugTransport struct {
	Base   http.RoundTripper
	Logger Logger
}

// NewDebugTransport wraps base, or http.DefaultTransport when base is nil.
func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{Base: base, Logger: logger}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := t.Logger.WithContext(req.Context())

	u := *req.URL
	u.User = nil
	logger.Debug("HTTP request",
		F("method", req.Method),
		F("url", u.String()),
	)

	resp, err := t.Base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Debug("HTTP request failed",
			F("method", req.Method),
			F("url", u.String()),
			F("error", err.Error()),
			F("duration", elapsed.String()),
		)
		return nil, err
	}

	logger.Debug("HTTP response",
		F("method", req.Method),
		F("url", u.String()),
		F("status", resp.StatusCode),
		F("duration", elapsed.String()),
	)
	return resp, nil
}

// NewDebugLoggerWithTransport builds a logger and, when EnableDebug is set, a
// transport that logs through it at DEBUG.
func NewDebugLoggerWithTransport(config LogConfig) (Logger, *DebugTransport, error) {
	if config.EnableDebug {
		config.Level = DEBUG
	}
	logger, err := NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	if !config.EnableDebug {
		return logger, nil, nil
	}
	return logger, NewDebugTransport(nil, logger), nil
}
