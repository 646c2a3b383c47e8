package notebook

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	img "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	DefaultImage = "quay.io/jupyter/scipy-notebook:latest"
	workDir      = "/tmp"
	notebookFile = "notebook.ipynb"
)

// DockerConfig selects the image and limits for containerized execution.
type DockerConfig struct {
	Image   string
	Kernel  string
	Timeout time.Duration
	// Network is needed by notebooks that call a hosted model.
	Network  bool
	Memory   int64
	NanoCPUs int64
}

// DockerEngine executes notebooks with nbconvert inside a throwaway
// container. The daemon is located through DOCKER_HOST.
type DockerEngine struct {
	cli *client.Client
	cfg DockerConfig
	log *zap.Logger
}

func NewDockerEngine(cfg DockerConfig, log *zap.Logger) (*DockerEngine, error) {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Kernel == "" {
		cfg.Kernel = DefaultKernel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerEngine{cli: cli, cfg: cfg, log: log}, nil
}

func (e *DockerEngine) Close() error { return e.cli.Close() }

func (e *DockerEngine) Execute(ctx context.Context, doc *Document) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("cannot reach docker daemon (%s): %w", os.Getenv("DOCKER_HOST"), err)
	}
	if err := e.ensureImage(ctx); err != nil {
		return fmt.Errorf("pull image %s: %w", e.cfg.Image, err)
	}

	nb, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode notebook: %w", err)
	}
	stdout, stderr, exitCode, err := e.run(ctx, nb)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("nbconvert exit code=%d\nstderr:\n%s", exitCode, tail(stderr, 4096))
	}

	return doc.adoptOutputs([]byte(stdout))
}

func (e *DockerEngine) command() []string {
	return []string{
		"jupyter", "nbconvert",
		"--to", "notebook",
		"--execute",
		"--stdout",
		"--ExecutePreprocessor.timeout=" + strconv.Itoa(int(e.cfg.Timeout.Seconds())),
		"--ExecutePreprocessor.kernel_name=" + e.cfg.Kernel,
		workDir + "/" + notebookFile,
	}
}

func (e *DockerEngine) ensureImage(ctx context.Context) error {
	if _, err := e.cli.ImageInspect(ctx, e.cfg.Image); err == nil {
		return nil
	}
	e.log.Info("pulling notebook image", zap.String("image", e.cfg.Image))
	reader, err := e.cli.ImagePull(ctx, imageRef(e.cfg.Image), img.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader) // eat the progress stream
	return nil
}

func imageRef(image string) string {
	if strings.Contains(image, "/") || strings.Contains(image, ":") {
		return image
	}
	return "docker.io/library/" + image + ":latest"
}

// run creates the container, uploads the notebook before start, waits for
// nbconvert to exit and returns its demuxed output.
func (e *DockerEngine) run(ctx context.Context, nb []byte) (stdout, stderr string, exitCode int, err error) {
	networkMode := container.NetworkMode("none")
	if e.cfg.Network {
		networkMode = ""
	}
	hostCfg := &container.HostConfig{
		NetworkMode: networkMode,
		Resources: container.Resources{
			Memory:   e.cfg.Memory,
			NanoCPUs: e.cfg.NanoCPUs,
		},
	}
	create, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:      e.cfg.Image,
		Cmd:        e.command(),
		WorkingDir: workDir,
		Tty:        false,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return "", "", 0, fmt.Errorf("create: %w", err)
	}
	cid := create.ID
	log := e.log.With(zap.String("container", shortID(cid)))
	defer func() {
		timeout := 5
		_ = e.cli.ContainerStop(context.Background(), cid, container.StopOptions{Timeout: &timeout})
		if err := e.cli.ContainerRemove(context.Background(), cid, container.RemoveOptions{Force: true}); err != nil {
			log.Warn("remove container", zap.Error(err))
		}
	}()

	archive, err := tarFile(notebookFile, nb)
	if err != nil {
		return "", "", 0, err
	}
	if err := e.cli.CopyToContainer(ctx, cid, workDir, archive, container.CopyToContainerOptions{}); err != nil {
		return "", "", 0, fmt.Errorf("copy notebook: %w", err)
	}

	if err := e.cli.ContainerStart(ctx, cid, container.StartOptions{}); err != nil {
		return "", "", 0, fmt.Errorf("start: %w", err)
	}
	log.Debug("notebook container started")

	statusCh, errCh := e.cli.ContainerWait(ctx, cid, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", "", 0, fmt.Errorf("wait: %w", err)
		}
	case st := <-statusCh:
		if st.Error != nil {
			return "", "", 0, fmt.Errorf("wait: %s", st.Error.Message)
		}
		exitCode = int(st.StatusCode)
	}

	logs, err := e.cli.ContainerLogs(ctx, cid, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", exitCode, fmt.Errorf("logs: %w", err)
	}
	defer logs.Close()
	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, logs); err != nil {
		return "", "", exitCode, fmt.Errorf("demux logs: %w", err)
	}
	log.Debug("notebook container exited", zap.Int("exit_code", exitCode))
	return outBuf.String(), errBuf.String(), exitCode, nil
}

func tarFile(name string, data []byte) (io.Reader, error) {
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
