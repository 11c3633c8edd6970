package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// tailCore is a zapcore.Core that keeps the last N rendered log lines in a
// ring buffer so the run ledger can embed a trailing session-log excerpt.
type tailCore struct {
	zapcore.LevelEnabler

	enc  zapcore.Encoder
	ring *tailRing
}

// tailRing is the shared line buffer; clones produced by With write into the
// same ring.
type tailRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newTailCore(enc zapcore.Encoder, size int) *tailCore {
	return &tailCore{
		LevelEnabler: zapcore.InfoLevel,
		enc:          enc,
		ring:         &tailRing{lines: make([]string, size)},
	}
}

func (c *tailCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &tailCore{
		LevelEnabler: c.LevelEnabler,
		enc:          c.enc.Clone(),
		ring:         c.ring,
	}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

func (c *tailCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *tailCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()

	r := c.ring
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return nil
}

func (c *tailCore) Sync() error { return nil }

// Lines returns the captured lines, oldest first.
func (c *tailCore) Lines() []string {
	r := c.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.lines))
	start := 0
	if r.full {
		start = r.next
	}
	for i := 0; i < len(r.lines); i++ {
		line := r.lines[(start+i)%len(r.lines)]
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
