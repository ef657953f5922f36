package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"grimm.is/mudgate/internal/brand"
)

// ConsoleHandler writes one human-readable line per record:
//
//	RFC3339 mudgate[pid]: [level] component[device]: message key=value
//
// Either half of the component[device] prefix is omitted when unset.
type ConsoleHandler struct {
	opts  slog.HandlerOptions
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
}

// NewConsoleHandler creates a new ConsoleHandler.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{out: out, opts: *opts, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler is enabled for this level.
func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

// Handle handles the Record.
func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	var component, device string
	rest := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case KeyComponent:
			component = strings.ToLower(a.Value.String())
		case KeyDevice:
			device = a.Value.String()
		default:
			rest = append(rest, a)
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s[%d]: [%s] ", t.Format(time.RFC3339), brand.BinaryName, os.Getpid(), levelName(r.Level))
	if component != "" || device != "" {
		sb.WriteString(component)
		if device != "" {
			sb.WriteString("[" + device + "]")
		}
		sb.WriteString(": ")
	}
	sb.WriteString(r.Message)
	for _, a := range rest {
		sb.WriteByte(' ')
		writeAttr(&sb, a)
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func levelName(l slog.Level) string {
	if l >= LevelAudit {
		return "audit"
	}
	return strings.ToLower(l.String())
}

func writeAttr(sb *strings.Builder, a slog.Attr) {
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		val = fmt.Sprintf("%q", val)
	}
	sb.WriteString(val)
}

// WithAttrs returns a new handler with the given attributes.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ConsoleHandler{opts: h.opts, out: h.out, mu: h.mu, attrs: merged}
}

// WithGroup returns the handler unchanged; console output is flat.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	return h
}
