package execbin

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) record(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			l.lines = append(l.lines, msg+": "+args[i+1].(string))
		}
	}
}

func (l *captureLogger) Debug(msg string, args ...any) { l.record(msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record(msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record(msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record(msg, args...) }

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newShell(opts Options) *Interpreter {
	opts.Binaries = map[string]string{".sh": "/bin/sh"}
	return New(opts)
}

func begin(t *testing.T, in *Interpreter, env interp.Environment) interp.Context {
	t.Helper()
	ictx, err := in.NewContext()
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if err := ictx.BeginRequest(env); err != nil {
		t.Fatalf("BeginRequest() error = %v", err)
	}
	t.Cleanup(func() { ictx.Close() }) //nolint:errcheck // Test cleanup
	return ictx
}

func TestRunScript_ExitCodeAndOutput(t *testing.T) {
	requireShell(t)
	path := writeScript(t, "echo \"$1-$2\"\nexit 3\n")

	var out bytes.Buffer
	ictx := begin(t, newShell(Options{}), interp.Environment{Output: &out})
	code, err := ictx.RunScript(context.Background(), interp.Script{Path: path}, []string{"script.sh", "a", "b"})
	if err != nil {
		t.Fatalf("RunScript() error = %v", err)
	}
	if code != 3 {
		t.Errorf("RunScript() = %d, want 3", code)
	}
	if out.String() != "a-b\n" {
		t.Errorf("output = %q, want %q", out.String(), "a-b\n")
	}
}

func TestRunScript_Environment(t *testing.T) {
	requireShell(t)
	path := writeScript(t, "echo \"$GRAYLOGIC_DEVICE_ID $GRAYLOGIC_LISTENER_ID $GRAYLOGIC_CLI\"\n")

	var out bytes.Buffer
	ictx := begin(t, newShell(Options{}), interp.Environment{Output: &out, DeviceID: 17, ListenerID: "exec-4", CommandLine: true})
	if _, err := ictx.RunScript(context.Background(), interp.Script{Path: path}, []string{"script.sh"}); err != nil {
		t.Fatalf("RunScript() error = %v", err)
	}
	if got := out.String(); got != "17 exec-4 1\n" {
		t.Errorf("output = %q, want %q", got, "17 exec-4 1\n")
	}
}

func TestRunScript_StderrLogged(t *testing.T) {
	requireShell(t)
	path := writeScript(t, "echo oops >&2\necho again >&2\n")

	logger := &captureLogger{}
	in := newShell(Options{})
	in.SetLogger(logger)
	ictx := begin(t, in, interp.Environment{})
	if _, err := ictx.RunScript(context.Background(), interp.Script{Path: path}, []string{"script.sh"}); err != nil {
		t.Fatalf("RunScript() error = %v", err)
	}

	want := []string{"script stderr: oops", "script stderr: again"}
	if strings.Join(logger.lines, "|") != strings.Join(want, "|") {
		t.Errorf("logged = %v, want %v", logger.lines, want)
	}
}

func TestRunScript_WebRequest(t *testing.T) {
	requireShell(t)
	path := writeScript(t, "read line\necho \"$REQUEST_METHOD $QUERY_STRING $line\"\n")

	r := httptest.NewRequest("POST", "/web/form.sh?room=hall", strings.NewReader("hello\n"))
	w := httptest.NewRecorder()
	ictx := begin(t, newShell(Options{}), interp.Environment{Output: w, Request: r, Response: w})
	if _, err := ictx.RunScript(context.Background(), interp.Script{Path: path}, []string{"form.sh"}); err != nil {
		t.Fatalf("RunScript() error = %v", err)
	}
	if got := w.Body.String(); got != "POST room=hall hello\n" {
		t.Errorf("body = %q, want %q", got, "POST room=hall hello\n")
	}
}

func TestRunScript_CancelKillsProcessGroup(t *testing.T) {
	requireShell(t)
	path := writeScript(t, "sleep 30\n")

	ictx := begin(t, newShell(Options{GracefulTimeout: time.Second}), interp.Environment{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	code, err := ictx.RunScript(ctx, interp.Script{Path: path}, []string{"script.sh"})
	if !errors.Is(err, ErrKilled) {
		t.Fatalf("RunScript() error = %v, want %v", err, ErrKilled)
	}
	if code != 128+15 {
		t.Errorf("RunScript() = %d, want %d", code, 128+15)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("RunScript() took %v after cancel", elapsed)
	}
}

func TestRunScript_Rejections(t *testing.T) {
	in := newShell(Options{})
	tests := []struct {
		name    string
		script  interp.Script
		wantErr error
	}{
		{name: "inline source", script: interp.Script{Source: "echo hi"}, wantErr: ErrInlineSource},
		{name: "unknown extension", script: interp.Script{Path: "/tmp/x.py"}, wantErr: ErrNoBinary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ictx := begin(t, in, interp.Environment{})
			code, err := ictx.RunScript(context.Background(), tt.script, []string{"x"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RunScript() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, interp.ErrStartFailed) {
				t.Errorf("RunScript() error = %v, want %v", err, interp.ErrStartFailed)
			}
			if code != 255 {
				t.Errorf("RunScript() = %d, want 255", code)
			}
		})
	}
}

func TestRunScript_BinaryMissing(t *testing.T) {
	in := New(Options{Binaries: map[string]string{".sh": "/nonexistent/bin/sh"}})
	ictx := begin(t, in, interp.Environment{})

	code, err := ictx.RunScript(context.Background(), interp.Script{Path: "/tmp/x.sh"}, []string{"x"})
	if !errors.Is(err, interp.ErrStartFailed) {
		t.Errorf("RunScript() error = %v, want %v", err, interp.ErrStartFailed)
	}
	if code != 255 {
		t.Errorf("RunScript() = %d, want 255", code)
	}
}

func TestContext_Lifecycle(t *testing.T) {
	in := newShell(Options{})
	ictx, err := in.NewContext()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ictx.RunScript(context.Background(), interp.Script{Path: "/tmp/x.sh"}, nil); !errors.Is(err, interp.ErrNoRequest) {
		t.Errorf("RunScript() before BeginRequest error = %v, want %v", err, interp.ErrNoRequest)
	}
	if _, err := ictx.StartSession(); !errors.Is(err, ErrSessionsUnsupported) {
		t.Errorf("StartSession() error = %v, want %v", err, ErrSessionsUnsupported)
	}
	if err := ictx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ictx.BeginRequest(interp.Environment{}); !errors.Is(err, interp.ErrContextClosed) {
		t.Errorf("BeginRequest() after Close error = %v, want %v", err, interp.ErrContextClosed)
	}
}

func TestExtensions(t *testing.T) {
	in := New(Options{Binaries: map[string]string{".py": "/usr/bin/python3", ".sh": "/bin/sh"}})
	got := in.Extensions()
	if len(got) != 2 || got[0] != ".py" || got[1] != ".sh" {
		t.Errorf("Extensions() = %v, want [.py .sh]", got)
	}
}
