package log

import (
	"bytes"
	"fmt"
	stdlog "log"
	"strings"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured JSON logs, to stderr by default. Stdout is never
// used as it carries the node's protocol output.
//
// Records below the configured level are dropped, unless the logger's
// subsystem is enabled, in which case all records are written. Subsystems
// are dot separated, so enabling 'cluster' also enables 'cluster.node'.
//
// A node's ID is only known once the init handshake completes, so the ID is
// bound late with SetNodeID and added as a 'node-id' field to every record
// written by loggers sharing the same node identity.
type Logger interface {
	Subsystem() string
	// WithSubsystem creates a new logger with the given subsystem.
	WithSubsystem(s string) Logger
	With(fields ...zap.Field) Logger
	// WithNodeIdentity creates a new logger with its own unset node ID,
	// shared with all loggers derived from it.
	WithNodeIdentity() Logger
	// SetNodeID sets the node ID logged by all loggers sharing this
	// logger's node identity.
	SetNodeID(id string)
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
	// StdLogger returns a standard library logger writing records at the
	// given level, such as for http.Server.ErrorLog.
	StdLogger(level zapcore.Level) *stdlog.Logger
}

type logger struct {
	core zapcore.Core

	subsystem         string
	subsystemEnabled  bool
	enabledSubsystems []string

	nodeID *atomic.String

	errorOutput zapcore.WriteSyncer
}

// NewLogger creates a logger filtering by the configured level and enabled
// subsystems, writing to the configured output.
func NewLogger(conf *Config) (Logger, error) {
	level, err := parseLevel(conf.Level)
	if err != nil {
		return nil, err
	}

	output := conf.Output
	if output == "" {
		output = "stderr"
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.NameKey = "subsystem"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(
		"2006-01-02T15:04:05.999Z07:00",
	)

	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("open sink: %s: %w", output, err)
	}
	return &logger{
		core: &overrideCore{core: zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			sink,
			zap.NewAtomicLevelAt(level),
		)},
		subsystem:         "main",
		subsystemEnabled:  subsystemEnabled("main", conf.Subsystems),
		enabledSubsystems: conf.Subsystems,
		nodeID:            atomic.NewString(""),
		errorOutput:       sink,
	}, nil
}

func (l *logger) Subsystem() string {
	return l.subsystem
}

func (l *logger) WithSubsystem(s string) Logger {
	if s == l.subsystem {
		return l
	}

	clone := l.clone()
	clone.subsystem = s
	clone.subsystemEnabled = subsystemEnabled(s, clone.enabledSubsystems)
	return clone
}

func (l *logger) With(fields ...zap.Field) Logger {
	if len(fields) == 0 {
		return l
	}
	clone := l.clone()
	clone.core = clone.core.With(fields)
	return clone
}

func (l *logger) WithNodeIdentity() Logger {
	clone := l.clone()
	clone.nodeID = atomic.NewString("")
	return clone
}

func (l *logger) SetNodeID(id string) {
	l.nodeID.Store(id)
}

func (l *logger) Debug(msg string, fields ...zap.Field) {
	l.log(zap.DebugLevel, msg, fields)
}

func (l *logger) Info(msg string, fields ...zap.Field) {
	l.log(zap.InfoLevel, msg, fields)
}

func (l *logger) Warn(msg string, fields ...zap.Field) {
	l.log(zap.WarnLevel, msg, fields)
}

func (l *logger) Error(msg string, fields ...zap.Field) {
	l.log(zap.ErrorLevel, msg, fields)
}

func (l *logger) Sync() error {
	return l.core.Sync()
}

func (l *logger) StdLogger(level zapcore.Level) *stdlog.Logger {
	return stdlog.New(&writerFunc{
		write: func(msg string) {
			l.log(level, msg, nil)
		},
	}, "", 0)
}

func (l *logger) clone() *logger {
	clone := *l
	return &clone
}

func (l *logger) log(lvl zapcore.Level, msg string, fields []zap.Field) {
	ce := l.check(lvl, msg)
	if ce == nil {
		return
	}
	if id := l.nodeID.Load(); id != "" {
		fields = append(fields, zap.String("node-id", id))
	}
	ce.Write(fields...)
}

func (l *logger) check(lvl zapcore.Level, msg string) *zapcore.CheckedEntry {
	// Enabled subsystems bypass the level filter.
	if !l.subsystemEnabled {
		if lvl < zapcore.DPanicLevel && !l.core.Enabled(lvl) {
			return nil
		}
	}

	ce := l.core.Check(zapcore.Entry{
		// Encoded as 'subsystem'.
		LoggerName: l.subsystem,
		Time:       time.Now(),
		Level:      lvl,
		Message:    msg,
	}, nil)
	if ce == nil {
		return nil
	}
	ce.ErrorOutput = l.errorOutput
	return ce
}

type nopLogger struct {
}

func NewNopLogger() Logger {
	return &nopLogger{}
}

func (l *nopLogger) Subsystem() string {
	return ""
}

func (l *nopLogger) WithSubsystem(_ string) Logger {
	return l
}

func (l *nopLogger) With(_ ...zap.Field) Logger {
	return l
}

func (l *nopLogger) WithNodeIdentity() Logger {
	return l
}

func (l *nopLogger) SetNodeID(_ string) {
}

func (l *nopLogger) Debug(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Info(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Warn(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Error(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Sync() error {
	return nil
}

func (l *nopLogger) StdLogger(_ zapcore.Level) *stdlog.Logger {
	return stdlog.New(&writerFunc{write: func(string) {}}, "", 0)
}

type writerFunc struct {
	write func(msg string)
}

func (w *writerFunc) Write(p []byte) (int, error) {
	w.write(string(bytes.TrimSpace(p)))
	return len(p), nil
}

// subsystemEnabled reports whether the subsystem, or any parent of it, is
// enabled.
func subsystemEnabled(subsystem string, enabled []string) bool {
	for _, s := range enabled {
		if subsystem == s || strings.HasPrefix(subsystem, s+".") {
			return true
		}
	}
	return false
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zapcore.Level(0), fmt.Errorf("unsupported level: %s", s)
	}
}

// overrideCore wraps a core so Check doesn't filter by level, leaving level
// filtering to the logger so enabled subsystems can override it.
type overrideCore struct {
	core zapcore.Core
}

func (c *overrideCore) Enabled(lvl zapcore.Level) bool {
	return c.core.Enabled(lvl)
}

func (c *overrideCore) With(fields []zap.Field) zapcore.Core {
	return &overrideCore{core: c.core.With(fields)}
}

func (c *overrideCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(ent, c.core)
}

func (c *overrideCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.core.Write(ent, fields)
}

func (c *overrideCore) Sync() error {
	return c.core.Sync()
}
