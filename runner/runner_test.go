package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecRunnerCapturesStdout(t *testing.T) {
	r := &ExecRunner{Command: []string{"sh"}}
	out, err := r.Run(context.Background(), "echo hello\necho world")
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if out != "hello\nworld\n" {
		t.Errorf("output: got %q want %q", out, "hello\nworld\n")
	}
}

func TestExecRunnerSurfacesStderr(t *testing.T) {
	r := &ExecRunner{Command: []string{"sh"}}
	_, err := r.Run(context.Background(), "echo oops >&2; exit 1")
	if err == nil {
		t.Fatalf("Run: want error on non-zero exit")
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Errorf("error does not carry stderr: %s", err)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	r := &ExecRunner{
		Command: []string{"sleep", "30"},
		Timeout: 50 * time.Millisecond,
	}
	start := time.Now()
	_, err := r.Run(context.Background(), "")
	if err == nil {
		t.Fatalf("Run: want timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("Run did not honor the timeout")
	}
}

func TestExecRunnerNoCommand(t *testing.T) {
	r := &ExecRunner{}
	if _, err := r.Run(context.Background(), "echo hi"); err == nil {
		t.Fatalf("Run: want error for empty command")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	shell := &ExecRunner{Command: []string{"sh"}}
	reg.Register("shell", shell)
	reg.Register("python", &ExecRunner{Command: []string{"python3"}})

	r, err := reg.Get("shell")
	if err != nil {
		t.Fatalf("Get(shell): %s", err)
	}
	if r != shell {
		t.Errorf("Get(shell) returned a different runner")
	}

	if _, err := reg.Get("cobol"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("Get(cobol): got err %v want ErrUnsupportedLanguage", err)
	}

	got := reg.Languages()
	want := []string{"python", "shell"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Languages: got %v want %v", got, want)
	}
}
