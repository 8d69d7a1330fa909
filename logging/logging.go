// Package logging sets up the process logger.
package logging

import (
	"context"
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey int

const requestKey ctxKey = iota

// Request identifies a DNS request in log lines.
type Request struct {
	ID     uint16
	Client string
}

// WithRequest attaches req to ctx. Entries logged with log.WithContext(ctx)
// carry its fields.
func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey, req)
}

// RequestFrom returns the request attached to ctx.
func RequestFrom(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestKey).(Request)
	return req, ok
}

// Init parses and sets the log level, and sends output to a rotating file
// unless logPath is empty or "console".
func Init(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != "console" {
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(NewFormatter())
	log.SetLevel(level)
	return nil
}

// NewFormatter returns the text formatter used by Init.
func NewFormatter() *Formatter {
	return &Formatter{TextFormatter: log.TextFormatter{FullTimestamp: true}}
}

// Formatter adds request fields from the entry context.
type Formatter struct {
	log.TextFormatter
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context == nil {
		return f.TextFormatter.Format(entry)
	}
	if req, ok := RequestFrom(entry.Context); ok {
		entry.Data["request_id"] = req.ID
		if req.Client != "" {
			entry.Data["client"] = req.Client
		}
	}
	return f.TextFormatter.Format(entry)
}
