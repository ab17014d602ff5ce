package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/i474232898/weather-radar/internal/common"
	"github.com/i474232898/weather-radar/internal/radar"
)

// InputPlaceholder in the argument list is replaced with the path of a
// temporary file holding the input bytes. Without it the bytes go to stdin.
const InputPlaceholder = "{input}"

const maxStderrLen = 500

// Known non-fatal decoder chatter.
var stderrNoise = []string{"ECCODES ERROR", "Truncating time", "non-zero seconds"}

var errNoCommand = errors.New("converter command is empty")

// CommandOptions configures an external converter process.
type CommandOptions struct {
	// Command is the executable followed by its arguments.
	Command []string
	// Timeout is a hard wall-clock limit; the process is killed when it expires.
	Timeout time.Duration
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// CommandConverter runs an external decoder that writes a GeoJSON
// FeatureCollection to stdout.
type CommandConverter struct {
	name    string
	args    []string
	timeout time.Duration
	dir     string
	env     []string
	log     *zap.Logger
}

// NewCommandConverter creates a CommandConverter.
func NewCommandConverter(opts CommandOptions, log *zap.Logger) (*CommandConverter, error) {
	if len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		return nil, errNoCommand
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandConverter{
		name:    opts.Command[0],
		args:    append([]string(nil), opts.Command[1:]...),
		timeout: opts.Timeout,
		dir:     opts.Dir,
		env:     opts.Env,
		log:     log.Named("converter"),
	}, nil
}

// Convert runs the decoder on data. A run that outlives the timeout yields
// *radar.ConverterTimeoutError, a run ended by a foreign signal yields
// *radar.ConverterKilledError and a non-zero exit yields
// *radar.ConverterFailedError.
func (c *CommandConverter) Convert(ctx context.Context, data []byte) (*geojson.FeatureCollection, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := make([]string, len(c.args))
	copy(args, c.args)

	var inputPath string
	for i, a := range args {
		if a != InputPlaceholder {
			continue
		}
		if inputPath == "" {
			p, cleanup, err := writeTemp(data)
			if err != nil {
				return nil, err
			}
			defer cleanup()
			inputPath = p
		}
		args[i] = inputPath
	}

	cmd := exec.CommandContext(ctx, c.name, args...)
	cmd.Dir = c.dir
	cmd.Env = append(append(os.Environ(), "ECCODES_WARNINGS=0"), c.env...)
	// Children that inherit stdout must not keep Wait blocked past a kill.
	cmd.WaitDelay = 2 * time.Second
	if inputPath == "" {
		cmd.Stdin = bytes.NewReader(data)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)
	messages := common.NonEmptyLines(stderr.String(), stderrNoise...)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &radar.ConverterTimeoutError{Timeout: c.timeoutOr(elapsed)}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("converter interrupted: %w", ctx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// ExitCode is -1 when the process was terminated by a signal.
			if exitErr.ExitCode() == -1 {
				return nil, &radar.ConverterKilledError{Signal: exitErr.ProcessState.String()}
			}
			return nil, &radar.ConverterFailedError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   truncate(strings.Join(messages, "\n"), maxStderrLen),
			}
		}
		return nil, fmt.Errorf("run converter %s: %w", c.name, runErr)
	}

	if len(messages) > 0 {
		c.log.Warn("converter completed with warnings",
			zap.String("stderr", truncate(strings.Join(messages, "\n"), maxStderrLen)),
		)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(stdout.Bytes(), &fc); err != nil {
		return nil, fmt.Errorf("decode converter output (%d bytes): %w", stdout.Len(), err)
	}

	c.log.Debug("converter finished",
		zap.Duration("elapsed", elapsed),
		zap.Int("features", len(fc.Features)),
	)
	return &fc, nil
}

func (c *CommandConverter) timeoutOr(elapsed time.Duration) time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return elapsed.Round(time.Millisecond)
}

// writeTemp stores data in a temporary file. cleanup removes it and is safe
// to call on every exit path.
func writeTemp(data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "radar-*.grib2")
	if err != nil {
		return "", nil, fmt.Errorf("create converter input: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write converter input: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close converter input: %w", err)
	}
	return f.Name(), cleanup, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
