package notebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// LocalEngine runs nbconvert from the host's Jupyter installation.
type LocalEngine struct {
	Jupyter string
	Kernel  string
	Timeout time.Duration
	log     *zap.Logger
}

func NewLocalEngine(jupyter, kernel string, timeout time.Duration, log *zap.Logger) *LocalEngine {
	if jupyter == "" {
		jupyter = "jupyter"
	}
	if kernel == "" {
		kernel = DefaultKernel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalEngine{Jupyter: jupyter, Kernel: kernel, Timeout: timeout, log: log}
}

func (e *LocalEngine) Execute(ctx context.Context, doc *Document) error {
	dir, err := os.MkdirTemp("", "nbexec-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, notebookFile)
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode notebook: %w", err)
	}
	if err := os.WriteFile(in, b, 0o644); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.Jupyter, "nbconvert",
		"--to", "notebook",
		"--execute",
		"--stdout",
		"--ExecutePreprocessor.timeout="+strconv.Itoa(int(e.Timeout.Seconds())),
		"--ExecutePreprocessor.kernel_name="+e.Kernel,
		in,
	)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("notebook timed out: %w", ctx.Err())
		}
		return fmt.Errorf("nbconvert: %w\nstderr:\n%s", err, tail(stderr.String(), 4096))
	}

	if err := doc.adoptOutputs(stdout.Bytes()); err != nil {
		return err
	}
	e.log.Debug("local notebook run finished", zap.Int("cells", len(doc.Cells)))
	return nil
}
