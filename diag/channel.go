// Package diag pushes structured log records onto the shared broker
// log stream and mirrors them to a console writer.
//
// Records from every module land on the same list; each record carries
// the emitting module's identity and worker index so consumers can
// filter the stream.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	laps "github.com/laps-group/laps-go"
	"github.com/laps-group/laps-go/broker"
)

// pushTimeout caps each broker push. Pushes run detached from the
// caller's context; crash-path records still have to reach the broker
// after the worker's context has been canceled.
const pushTimeout = 5 * time.Second

// Channel writes log records to the broker log stream and mirrors them
// to a console writer. Safe for concurrent use.
type Channel struct {
	broker  broker.Client
	ident   laps.Identity
	key     string
	console io.Writer

	mu  sync.Mutex
	err error
}

// New creates a diagnostics channel for the given module identity.
// When console is nil, records are mirrored to standard output.
func New(b broker.Client, ident laps.Identity, testMode bool, console io.Writer) *Channel {
	if console == nil {
		console = os.Stdout
	}
	return &Channel{
		broker:  b,
		ident:   ident,
		key:     laps.LogKey(testMode),
		console: console,
	}
}

// Debugf emits a debug-level record.
func (c *Channel) Debugf(format string, args ...any) error {
	return c.log(LevelDebug, fmt.Sprintf(format, args...))
}

// Infof emits an info-level record.
func (c *Channel) Infof(format string, args ...any) error {
	return c.log(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf emits a warn-level record.
func (c *Channel) Warnf(format string, args ...any) error {
	return c.log(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf emits an error-level record.
func (c *Channel) Errorf(format string, args ...any) error {
	return c.log(LevelError, fmt.Sprintf(format, args...))
}

// Err returns the first failure the channel has seen, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// log renders the record to the console and pushes it to the broker.
// The mutex is held across both so stream order matches console order.
func (c *Channel) log(level Level, message string) error {
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.console, "%s %s %s\n",
		now.Format(time.RFC3339),
		level.Color().Sprintf("[%s]", strings.ToUpper(string(level))),
		message)

	rec := Record{
		Message:     message,
		Level:       level,
		Module:      c.ident,
		WorkerIndex: c.ident.WorkerIndex,
		Timestamp:   now.Unix(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return c.fail(fmt.Errorf("failed to marshal log record: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := c.broker.RPush(ctx, c.key, data); err != nil {
		return c.fail(err)
	}

	return nil
}

// fail latches the first error. Callers hold mu.
func (c *Channel) fail(err error) error {
	if c.err == nil {
		c.err = err
	}
	return err
}
