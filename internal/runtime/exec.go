package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cosmic-gao/nexo-machine/internal/branding"
	"github.com/subosito/gotenv"
)

// DefaultShell interprets commands when Exec.Shell is empty.
const DefaultShell = "sh"

// DotEnvFile is loaded from the working directory, when present, before
// Exec.Env is applied.
const DotEnvFile = ".env"

// waitDelay bounds how long Run waits for output pipes after the context
// kills the shell, since grandchildren may still hold them open.
const waitDelay = 500 * time.Millisecond

// Exec runs commands through a shell.
type Exec struct {
	// Shell defaults to DefaultShell. It is invoked as `<shell> -c <command>`.
	Shell string
	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string
	// Stdout and Stderr receive a live copy of the output. Stdout is only
	// captured when nil; Stderr defaults to os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// WithEnv returns a copy of e with extra environment entries.
func (e *Exec) WithEnv(kv ...string) *Exec {
	c := *e
	c.Env = append(append([]string(nil), e.Env...), kv...)
	return &c
}

// Run executes command in dir. A non-zero exit is reported through
// Output.ExitCode, not the error; the error covers failures to start or
// wait for the process, including context cancellation.
func (e *Exec) Run(ctx context.Context, dir, command string, input any) (*Output, error) {
	shell := e.Shell
	if shell == "" {
		shell = DefaultShell
	}
	shellBin, err := exec.LookPath(shell)
	if err != nil {
		return nil, fmt.Errorf("exec runtime requires %s: %w", shell, err)
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("serializing stage input: %w", err)
	}

	env, err := e.buildEnv(dir)
	if err != nil {
		return nil, fmt.Errorf("building runtime environment: %w", err)
	}
	env = setEnv(env, branding.EnvVar("input"), string(inputJSON))

	cmd := exec.CommandContext(ctx, shellBin, "-c", command)
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = waitDelay

	stdout := e.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := e.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = io.MultiWriter(stdout, &stdoutBuf)
	cmd.Stderr = io.MultiWriter(stderr, &stderrBuf)

	err = cmd.Run()

	output := &Output{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			output.ExitCode = exitErr.ExitCode()
			return output, nil
		}
		return output, fmt.Errorf("executing %q: %w", command, err)
	}
	return output, nil
}

// buildEnv inherits the process environment, overlays dir/.env and then
// e.Env, and sets NEXO_WORKDIR.
func (e *Exec) buildEnv(dir string) ([]string, error) {
	env := os.Environ()

	if dir != "" {
		dotenv, err := loadDotEnv(filepath.Join(dir, DotEnvFile))
		if err != nil {
			return nil, err
		}
		for k, v := range dotenv {
			env = setEnv(env, k, v)
		}
	}
	for _, kv := range e.Env {
		k, v, _ := strings.Cut(kv, "=")
		env = setEnv(env, k, v)
	}

	workdir := dir
	if workdir == "" {
		workdir, _ = os.Getwd()
	}
	return setEnv(env, branding.EnvVar("workdir"), workdir), nil
}

func loadDotEnv(path string) (gotenv.Env, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	vars, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return vars, nil
}

// setEnv sets or replaces an environment variable in the env slice.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
