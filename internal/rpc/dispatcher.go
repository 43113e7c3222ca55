// Package rpc exposes named remote procedures. Every call is authorized by
// the gate before the handler runs and answers with an Envelope.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-feed/odyssey-feed/internal/acl"
	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Handler serves one method. The caller's token comes first, followed by the
// raw positional arguments.
type Handler func(ctx context.Context, token *shared.ActorToken, args []json.RawMessage) (any, error)

// Authorizer is the gate consulted before every call.
type Authorizer interface {
	Check(ctx context.Context, token *shared.ActorToken, topic, required string, actionType acl.ActionType, message string) error
}

// Envelope is the only shape a call returns: {"error":null,"data":...} on
// success, {"error":"..."} on failure.
type Envelope struct {
	Error *string
	Data  any
}

// OK reports whether the call succeeded.
func (e Envelope) OK() bool { return e.Error == nil }

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Error != nil {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{*e.Error})
	}
	return json.Marshal(struct {
		Error *string `json:"error"`
		Data  any     `json:"data"`
	}{nil, e.Data})
}

// Failure builds an error envelope.
func Failure(msg string) Envelope {
	return Envelope{Error: &msg}
}

// Success builds a data envelope.
func Success(data any) Envelope {
	return Envelope{Data: data}
}

// ErrDuplicateMethod is returned when a method name is registered twice.
var ErrDuplicateMethod = errors.New("rpc: method already registered")

// Dispatcher routes calls to registered handlers.
type Dispatcher struct {
	gate    Authorizer
	domain  string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher builds a Dispatcher whose topics live under domain.
func NewDispatcher(gate Authorizer, domain string, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		gate:     gate,
		domain:   domain,
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string]Handler),
	}
}

// Register adds a method.
func (d *Dispatcher) Register(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" || h == nil {
		return fmt.Errorf("rpc: register %q: name and handler required", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
	}
	d.handlers[name] = h
	return nil
}

// MustRegister is Register that panics on error, for wiring at startup.
func (d *Dispatcher) MustRegister(name string, h Handler) {
	if err := d.Register(name, h); err != nil {
		panic(err)
	}
}

// Methods lists registered method names.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Topic returns the ACL topic guarding a method.
func (d *Dispatcher) Topic(name string) string {
	return acl.Topic(d.domain, "rpc", name)
}

// Invoke authorizes and runs one call. The gate is consulted exactly once and
// the handler runs right after it in the calling goroutine. Invoke never
// panics and never returns a Go error.
func (d *Dispatcher) Invoke(ctx context.Context, name string, token *shared.ActorToken, args []json.RawMessage) Envelope {
	start := time.Now()
	if err := d.gate.Check(ctx, token, d.Topic(name), "x", acl.General, ""); err != nil {
		d.metrics.RPCInvocation(name, "denied", time.Since(start))
		return Failure(err.Error())
	}
	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		d.metrics.RPCInvocation(name, "unknown", time.Since(start))
		return Failure(fmt.Sprintf("unknown method %q", name))
	}

	data, err := d.call(ctx, name, h, token, args)
	if err != nil {
		d.metrics.RPCInvocation(name, "error", time.Since(start))
		d.logger.Warn("rpc call failed",
			slog.String("method", name),
			slog.String("actor", token.Actor()),
			slog.Any("error", err))
		return Failure(err.Error())
	}
	d.metrics.RPCInvocation(name, "ok", time.Since(start))
	return Success(data)
}

func (d *Dispatcher) call(ctx context.Context, name string, h Handler, token *shared.ActorToken, args []json.RawMessage) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("rpc handler panic", slog.String("method", name), slog.Any("panic", rec))
			err = fmt.Errorf("%v", rec)
		}
	}()
	return h(ctx, token, args)
}
