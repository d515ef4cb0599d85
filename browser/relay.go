package browser

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// relayCore mirrors log entries into the session page buffer until the
// session detaches it. Clones share the detach flag.
type relayCore struct {
	enc      zapcore.Encoder
	session  *Session
	detached *atomic.Bool
}

func newRelayCore(s *Session) *relayCore {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &relayCore{
		enc:      zapcore.NewConsoleEncoder(cfg),
		session:  s,
		detached: &atomic.Bool{},
	}
}

func (c *relayCore) Enabled(zapcore.Level) bool { return !c.detached.Load() }

func (c *relayCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for i := range fields {
		fields[i].AddTo(enc)
	}
	return &relayCore{enc: enc, session: c.session, detached: c.detached}
}

func (c *relayCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *relayCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.detached.Load() {
		return nil
	}
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()
	c.session.appendLog(line)
	return nil
}

func (c *relayCore) Sync() error { return nil }

func (c *relayCore) detach() { c.detached.Store(true) }
