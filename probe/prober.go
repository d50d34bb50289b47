package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/whisper-darkly/sticky-splitter/logger"
)

// DefaultTimeout bounds a single probe, including process startup and
// output parsing. A probe that overruns it is killed and reaped.
const DefaultTimeout = 10 * time.Second

// DefaultCommand returns the argv for a structured-inspection ffprobe
// call reading its input from stdin.
func DefaultCommand() []string {
	return []string{
		"ffprobe",
		"-show_streams",
		"-show_format",
		"-print_format", "json",
		"pipe:0",
	}
}

// Prober derives codec parameters from raw media bytes by running an
// external inspection process. A single probe is bounded by Timeout and
// never retried; on any failure the subprocess is terminated and reaped
// before the error is returned.
//
// Command is overridable so tests can substitute a fake inspector.
type Prober struct {
	Timeout time.Duration
	Command []string
	Log     *logger.Logger
}

// NewProber creates a Prober with the default ffprobe invocation.
func NewProber(log *logger.Logger) *Prober {
	return &Prober{
		Timeout: DefaultTimeout,
		Command: DefaultCommand(),
		Log:     log,
	}
}

// Probe writes payload to the inspection process and returns its parsed,
// normalized output. Blocks the calling goroutine for up to Timeout.
func (p *Prober) Probe(ctx context.Context, payload []byte) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if p.Log != nil {
		cmd.Stderr = p.Log.Writer(logger.LevelDebug)
	}

	// CommandContext kills the process when ctx expires and Run reaps
	// it, so no handle survives any exit path.
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s timed out after %s", p.Command[0], p.Timeout)
		}
		return nil, fmt.Errorf("run %s: %w", p.Command[0], err)
	}

	return Parse(stdout.Bytes())
}

// Parse converts raw inspector JSON into a normalized Profile.
// Exported for testing without a real ffprobe binary.
func Parse(data []byte) (*Profile, error) {
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	Normalize(&prof)
	return &prof, nil
}

// Outcome is the single result of an asynchronous probe: exactly one of
// Profile or Err is set.
type Outcome struct {
	Profile *Profile
	Err     error
}

// ProbeOn exposes a single probe as a one-shot asynchronous unit of
// work: the returned channel receives exactly one Outcome and is then
// closed. run supplies the execution context the probe is scheduled on;
// nil runs it inline on the calling goroutine before ProbeOn returns.
func (p *Prober) ProbeOn(ctx context.Context, payload []byte, run func(func())) <-chan Outcome {
	ch := make(chan Outcome, 1)
	task := func() {
		prof, err := p.Probe(ctx, payload)
		ch <- Outcome{Profile: prof, Err: err}
		close(ch)
	}
	if run == nil {
		task()
	} else {
		run(task)
	}
	return ch
}
