// Package runner is the pluggable code-execution capability: given source
// text for a declared language, produce its textual output or an error. The
// relay never sees any of this; execution results are local to the client
// that asked for them and are not part of the shared document state.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnsupportedLanguage is returned when no runner is registered for the
// requested language.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Runner executes source text and returns whatever it printed.
type Runner interface {
	Run(ctx context.Context, source string) (string, error)
}

// Registry maps language names to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

func (g *Registry) Register(language string, r Runner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runners[language] = r
}

func (g *Registry) Get(language string) (Runner, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runners[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return r, nil
}

// Languages returns the registered language names, sorted.
func (g *Registry) Languages() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	result := make([]string, 0, len(g.runners))
	for language := range g.runners {
		result = append(result, language)
	}
	sort.Strings(result)
	return result
}

const defaultRunTimeout = 10 * time.Second

// ExecRunner runs source by piping it to an interpreter subprocess on stdin,
// e.g. Command ["python3"] or ["node"]. The process is killed when the
// timeout elapses, so a hostile infinite loop cannot pin the host.
type ExecRunner struct {
	Command []string
	// Timeout caps one execution; 0 means defaultRunTimeout.
	Timeout time.Duration
}

func (e *ExecRunner) Run(ctx context.Context, source string) (string, error) {
	if len(e.Command) == 0 {
		return "", errors.New("exec runner has no command")
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = defaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Stdin = strings.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("execution timed out: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("execution failed: %s", msg)
	}
	return stdout.String(), nil
}
