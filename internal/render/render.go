// Package render turns a chart spec plus LLM-authored rendering
// instructions into a raster artifact by driving the renderbox child
// process. Render failures are data on the attempt, not errors: the
// regeneration loop consumes them as retry feedback.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/logging"
)

// Attempt is one generate+render cycle's outcome. Elements are present
// only when RenderOK is true.
type Attempt struct {
	Number       int              `json:"attempt_number"`
	Instructions string           `json:"-"`
	ArtifactPath string           `json:"artifact_path,omitempty"`
	RenderOK     bool             `json:"render_success"`
	RenderError  string           `json:"render_error,omitempty"`
	Elements     []layout.Element `json:"-"`
	Duration     time.Duration    `json:"duration_ms"`
	Stdout       string           `json:"-"`
	Stderr       string           `json:"-"`
}

// Config controls how render subprocesses run.
type Config struct {
	// RunnerPath locates the renderbox binary.
	RunnerPath string `yaml:"runner_path"`

	// OutputDir receives the PNG artifacts.
	OutputDir string `yaml:"output_dir"`

	// Timeout is the hard wall-clock limit per attempt. The child is
	// killed, not abandoned, when it expires.
	Timeout time.Duration `yaml:"timeout"`

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// KeepWorkdirs preserves per-attempt scratch directories for
	// debugging.
	KeepWorkdirs bool `yaml:"keep_workdirs"`
}

// DefaultConfig returns the standard backend settings.
func DefaultConfig() Config {
	return Config{
		RunnerPath:     "renderbox",
		OutputDir:      "artifacts",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// childGrace is how much earlier the child's own deadline fires, so it
// can report a timeout itself before the parent resorts to a hard kill.
const childGrace = 2 * time.Second

// Backend executes rendering instructions in an isolated child process.
type Backend struct {
	config Config
}

// NewBackend builds a backend from config, filling unset fields from
// DefaultConfig.
func NewBackend(config Config) *Backend {
	def := DefaultConfig()
	if config.RunnerPath == "" {
		config.RunnerPath = def.RunnerPath
	}
	if config.OutputDir == "" {
		config.OutputDir = def.OutputDir
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = def.MaxOutputBytes
	}
	return &Backend{config: config}
}

// Render runs one attempt. The returned error covers caller misuse only;
// everything that can go wrong inside the child lands on the attempt.
func (b *Backend) Render(ctx context.Context, spec *chartspec.ChartSpec, instructions, requestID string, attemptNo int) (*Attempt, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec is required")
	}
	if strings.TrimSpace(instructions) == "" {
		return nil, fmt.Errorf("rendering instructions are required")
	}
	if requestID == "" {
		return nil, fmt.Errorf("request id is required")
	}
	if attemptNo < 1 {
		return nil, fmt.Errorf("attempt number must be 1-based, got %d", attemptNo)
	}

	timer := logging.StartTimer(logging.CategoryRender, "Render attempt")
	defer timer.StopWithThreshold(b.config.Timeout / 2)
	logging.Render("Rendering %s attempt %d", requestID, attemptNo)

	attempt := &Attempt{Number: attemptNo, Instructions: instructions}

	workdir, err := os.MkdirTemp("", "chartqa-render-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}
	if !b.config.KeepWorkdirs {
		defer os.RemoveAll(workdir)
	}

	specData, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode spec: %w", err)
	}
	specPath := filepath.Join(workdir, "spec.json")
	scriptPath := filepath.Join(workdir, "draw.go")
	elementsPath := filepath.Join(workdir, "elements.json")
	if err := os.WriteFile(specPath, specData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write spec: %w", err)
	}
	if err := os.WriteFile(scriptPath, []byte(instructions), 0644); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	if err := os.MkdirAll(b.config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	artifactPath := filepath.Join(b.config.OutputDir, ArtifactName(requestID, attemptNo))

	execCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	childTimeout := b.config.Timeout - childGrace
	if childTimeout <= 0 {
		childTimeout = b.config.Timeout
	}

	cmd := exec.CommandContext(execCtx, b.config.RunnerPath,
		"--spec", specPath,
		"--script", scriptPath,
		"--out", artifactPath,
		"--elements", elementsPath,
		"--timeout", childTimeout.String(),
	)
	cmd.Dir = workdir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, max: b.config.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, max: b.config.MaxOutputBytes}

	started := time.Now()
	runErr := cmd.Run()
	attempt.Duration = time.Since(started)
	attempt.Stdout = stdoutBuf.String()
	attempt.Stderr = stderrBuf.String()

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		attempt.RenderError = fmt.Sprintf("render timed out after %s", b.config.Timeout)
		logging.RenderWarn("%s attempt %d killed: timeout after %s", requestID, attemptNo, b.config.Timeout)
		return attempt, nil
	case execCtx.Err() == context.Canceled:
		attempt.RenderError = "render canceled"
		logging.RenderDebug("%s attempt %d canceled", requestID, attemptNo)
		return attempt, nil
	case runErr != nil:
		attempt.RenderError = failureText(attempt.Stderr, runErr)
		logging.RenderWarn("%s attempt %d failed: %s", requestID, attemptNo, attempt.RenderError)
		return attempt, nil
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		attempt.RenderError = "renderer exited cleanly but produced no artifact"
		logging.RenderWarn("%s attempt %d: missing artifact at %s", requestID, attemptNo, artifactPath)
		logging.Audit().ArtifactWrite(artifactPath, 0, false, attempt.RenderError)
		return attempt, nil
	}
	logging.Audit().ArtifactWrite(artifactPath, info.Size(), true, "")

	elements, err := readElements(elementsPath)
	if err != nil {
		// Malformed layout records mean the instructions were bad, which
		// is a render failure, not a validation failure.
		attempt.RenderError = fmt.Sprintf("element extraction failed: %v", err)
		logging.RenderWarn("%s attempt %d: %s", requestID, attemptNo, attempt.RenderError)
		return attempt, nil
	}

	attempt.RenderOK = true
	attempt.ArtifactPath = artifactPath
	attempt.Elements = elements
	logging.Render("%s attempt %d rendered %d elements in %s", requestID, attemptNo, len(elements), attempt.Duration)
	return attempt, nil
}

// ArtifactName returns the deterministic artifact filename for a request
// and attempt, safe across concurrent requests.
func ArtifactName(requestID string, attemptNo int) string {
	return fmt.Sprintf("%s_attempt%02d.png", sanitizeID(requestID), attemptNo)
}

// sanitizeID keeps request identifiers filesystem-safe.
func sanitizeID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return sb.String()
}

func readElements(path string) ([]layout.Element, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no element records: %w", err)
	}
	var elements []layout.Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("malformed element records: %w", err)
	}
	return elements, nil
}

// failureText prefers the child's stderr over the Go-level error, trimmed
// to the last few lines for prompt feedback.
func failureText(stderr string, err error) string {
	trimmed := strings.TrimSpace(stderr)
	if trimmed == "" {
		return err.Error()
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, "\n")
}

// limitedWriter caps total bytes written, discarding the rest.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
