package lsp

import (
	"context"
	"strings"
	"sync"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// clientLogCore is a zapcore.Core that forwards log entries to the LSP
// client via window/logMessage, so server logs show up in editor log
// viewers. Delivery is queued and best-effort.
type clientLogCore struct {
	client  protocol.Client
	level   zapcore.Level
	encoder zapcore.Encoder
	fields  []zapcore.Field
	mu      sync.Mutex

	queue  chan clientLogEntry
	ctx    context.Context
	cancel context.CancelFunc
}

type clientLogEntry struct {
	kind    protocol.MessageType
	message string
}

// NewClientLogger builds a logger that tees to the LSP client and to
// the given fallback core (typically stderr). Call the returned stop
// function on shutdown.
func NewClientLogger(client protocol.Client, fallback zapcore.Core, level zapcore.Level) (*zap.Logger, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	core := &clientLogCore{
		client: client,
		level:  level,
		encoder: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:     "msg",
			NameKey:        "logger",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		}),
		queue:  make(chan clientLogEntry, 100),
		ctx:    ctx,
		cancel: cancel,
	}
	go core.send()

	return zap.New(zapcore.NewTee(core, fallback)), core.cancel
}

func (c *clientLogCore) send() {
	for {
		select {
		case entry := <-c.queue:
			// Client may be gone during shutdown.
			_ = c.client.LogMessage(c.ctx, &protocol.LogMessageParams{
				Type:    entry.kind,
				Message: entry.message,
			})
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *clientLogCore) Enabled(level zapcore.Level) bool {
	return level >= c.level
}

func (c *clientLogCore) With(fields []zapcore.Field) zapcore.Core {
	return &clientLogCore{
		client:  c.client,
		level:   c.level,
		encoder: c.encoder.Clone(),
		fields:  append(c.fields[:len(c.fields):len(c.fields)], fields...),
		queue:   c.queue,
		ctx:     c.ctx,
		cancel:  c.cancel,
	}
}

func (c *clientLogCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}

	return ce
}

func (c *clientLogCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, err := c.encoder.EncodeEntry(entry, append(c.fields, fields...))
	if err != nil {
		return err
	}

	message := strings.TrimSpace(buf.String())
	buf.Free()

	var kind protocol.MessageType
	switch entry.Level {
	case zapcore.DebugLevel:
		kind = protocol.MessageTypeLog
	case zapcore.WarnLevel:
		kind = protocol.MessageTypeWarning
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		kind = protocol.MessageTypeError
	default:
		kind = protocol.MessageTypeInfo
	}

	select {
	case c.queue <- clientLogEntry{kind: kind, message: message}:
	default:
		// Queue full; drop rather than block the caller.
	}

	return nil
}

func (c *clientLogCore) Sync() error { return nil }
