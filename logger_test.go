package compute

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/compute/backend"
)

func TestNopHandler(t *testing.T) {
	h := nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("nopHandler.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(nopHandler); !ok {
		t.Error("nopHandler.WithAttrs() did not return nopHandler")
	}
	if _, ok := h.WithGroup("g").(nopHandler); !ok {
		t.Error("nopHandler.WithGroup() did not return nopHandler")
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger enabled for %v", level)
		}
	}
}

func TestSetLogger(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)

	if Logger() != custom {
		t.Error("Logger() did not return the logger passed to SetLogger")
	}

	// Engines pick up the package logger.
	e, _ := newTestEngine(t, backend.Immediate)
	if _, err := e.CreateBuffer(16, BufferStructured, 4); err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"compute: engine ready", "backend=fake", "compute: buffer created"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSetLoggerNilRestoresSilent(t *testing.T) {
	SetLogger(slog.Default())
	SetLogger(nil)

	l := Logger()
	if l == nil {
		t.Fatal("SetLogger(nil) stored a nil logger")
	}
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) left logging enabled")
	}
}

// loggingDevice is a fake device that accepts a logger.
type loggingDevice struct {
	*fakeDevice
	logger *slog.Logger
}

func (d *loggingDevice) SetLogger(l *slog.Logger) { d.logger = l }

func TestLoggerPropagatesToDevice(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	own := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	tests := []struct {
		name   string
		global *slog.Logger
		opts   []EngineOption
		want   *slog.Logger
	}{
		{"silent by default", nil, nil, nil},
		{"package logger", custom, nil, custom},
		{"engine logger wins", custom, []EngineOption{WithLogger(own)}, own},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogger(tt.global)
			d := &loggingDevice{fakeDevice: newFake(backend.Immediate)}
			e, err := NewEngine(append([]EngineOption{WithDevice(d)}, tt.opts...)...)
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}
			defer e.Close()
			if d.logger != tt.want {
				t.Errorf("device logger = %p, want %p", d.logger, tt.want)
			}
		})
	}
}
