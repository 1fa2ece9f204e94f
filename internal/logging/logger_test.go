package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

// captureOutput redirects global output to a buffer for one test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetColor(false)
	SetLevel(INFO)
	t.Cleanup(func() {
		SetOutput(&bytes.Buffer{})
		SetLevel(INFO)
	})
	return &buf
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{" info ", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"", INFO},
		{"garbage", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)

	SetLevel(WARN)
	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("DEBUG emitted at WARN level")
	}
	if strings.Contains(out, "info message") {
		t.Error("INFO emitted at WARN level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("WARN missing at WARN level")
	}
	if !strings.Contains(out, "error message") {
		t.Error("ERROR missing at WARN level")
	}
}

func TestSetLevelAffectsDerivedLoggers(t *testing.T) {
	buf := captureOutput(t)

	log := WithField("component", "test")
	log.Debug("before")
	SetLevel(DEBUG)
	log.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Error("DEBUG emitted before SetLevel(DEBUG)")
	}
	if !strings.Contains(out, "after") {
		t.Error("derived logger did not pick up global level change")
	}
}

func TestFormatting(t *testing.T) {
	buf := captureOutput(t)

	Info("users: %d, backend: %s", 3, "sqlite")
	if !strings.Contains(buf.String(), "users: 3, backend: sqlite") {
		t.Errorf("printf args not applied: %q", buf.String())
	}
}

func TestFieldsRenderSorted(t *testing.T) {
	buf := captureOutput(t)

	WithFields(map[string]interface{}{
		"zebra":     1,
		"alpha":     2,
		"component": "api",
	}).Info("hello")

	out := buf.String()
	want := "| alpha=2 component=api zebra=1"
	if !strings.Contains(out, want) {
		t.Errorf("fields = %q, want suffix %q", out, want)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	buf := captureOutput(t)

	parent := WithField("component", "storage")
	_ = parent.WithField("backend", "redis")

	parent.Info("parent message")
	if strings.Contains(buf.String(), "backend=redis") {
		t.Error("child field leaked into parent logger")
	}
}

func TestWithFieldOverride(t *testing.T) {
	buf := captureOutput(t)

	WithField("component", "a").WithField("component", "b").Info("x")
	out := buf.String()
	if !strings.Contains(out, "component=b") {
		t.Errorf("override missing: %q", out)
	}
	if strings.Count(out, "component=") != 1 {
		t.Errorf("field duplicated: %q", out)
	}
}

func TestNoColorOutput(t *testing.T) {
	buf := captureOutput(t)

	Info("plain")
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("ANSI escape in colorless output: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Errorf("level tag missing: %q", buf.String())
	}
}

func TestConcurrentLogging(t *testing.T) {
	_ = captureOutput(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			WithField("worker", n).Info("message %d", n)
		}(i)
	}
	wg.Wait()
}
