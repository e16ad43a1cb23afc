// Package capture supervises the external screen-capture process and
// the region selection helper.
package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/screencastd/screencastd/internal/session"
)

const (
	defaultContainer = "mp4"
	defaultFrameRate = 60
)

// Options controls where and how recordings are captured. Zero values
// fall back to the defaults described in the config package.
type Options struct {
	// OutputDir overrides the default output directory
	// (<videos dir>/Screencasts).
	OutputDir string
	// Container is the output container extension (default mp4).
	Container string
	// FrameRate is the capture frame rate (default 60).
	FrameRate int
	// Codec, when set, is passed to the capture tool as -k.
	Codec string
}

func (o Options) container() string {
	if o.Container == "" {
		return defaultContainer
	}
	return o.Container
}

func (o Options) frameRate() int {
	if o.FrameRate <= 0 {
		return defaultFrameRate
	}
	return o.FrameRate
}

// Process is a live capture subprocess handle.
type Process struct {
	cmd *exec.Cmd
}

// Pid returns the OS process id of the capture subprocess.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Recorder spawns and stops the capture tool. Options may be replaced
// at runtime (config live reload); the swap is guarded so a reload
// racing a start is safe.
type Recorder struct {
	mu   sync.RWMutex
	opts Options

	// captureCmd is the capture tool binary. Overridable in tests.
	captureCmd string
}

// NewRecorder creates a recorder driving gpu-screen-recorder.
func NewRecorder(opts Options) *Recorder {
	return &Recorder{opts: opts, captureCmd: "gpu-screen-recorder"}
}

// SetOptions replaces the recorder options. Takes effect on the next
// Start; the running recording is unaffected.
func (r *Recorder) SetOptions(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = opts
}

func (r *Recorder) options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Start spawns the capture tool for the given region and returns
// immediately with a live handle and the output file path. The output
// directory is created if absent.
func (r *Recorder) Start(ctx context.Context, region string) (session.Handle, string, error) {
	opts := r.options()

	dir, err := ensureOutputDir(opts.OutputDir)
	if err != nil {
		return nil, "", err
	}
	file := filepath.Join(dir, outputFilename(time.Now(), opts.container()))

	cmd := exec.CommandContext(ctx, r.captureCmd, captureArgs(region, file, opts)...)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start %s: %w", r.captureCmd, err)
	}

	return &Process{cmd: cmd}, file, nil
}

// Stop sends SIGINT to the capture process and waits for it to exit.
// The interrupt (rather than a kill) lets the tool flush container
// metadata and close the output file.
func (r *Recorder) Stop(h session.Handle) error {
	p, ok := h.(*Process)
	if !ok {
		return fmt.Errorf("unexpected handle type %T", h)
	}

	if err := unix.Kill(p.Pid(), unix.SIGINT); err != nil {
		return fmt.Errorf("send SIGINT to pid %d: %w", p.Pid(), err)
	}

	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("wait for capture process: %w", err)
	}
	return nil
}

// captureArgs builds the gpu-screen-recorder argument list.
func captureArgs(region, file string, opts Options) []string {
	args := []string{
		"-w", region,
		"-c", opts.container(),
		"-f", strconv.Itoa(opts.frameRate()),
		"-o", file,
	}
	if opts.Codec != "" {
		args = append(args, "-k", opts.Codec)
	}
	return args
}

// outputFilename formats the timestamped recording filename.
func outputFilename(now time.Time, container string) string {
	return fmt.Sprintf("screen-record-%s.%s", now.Format("2006-01-02_15-04-05"), container)
}

// ensureOutputDir resolves the output directory and creates it if
// absent. An empty override falls back to <videos dir>/Screencasts,
// with the videos dir itself falling back to the home directory.
func ensureOutputDir(override string) (string, error) {
	dir := override
	if dir == "" {
		base, err := videosDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "Screencasts")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return dir, nil
}

// videosDir returns the XDG videos directory from user-dirs.dirs,
// falling back to the home directory.
func videosDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	if dir := parseUserDirs(filepath.Join(configHome, "user-dirs.dirs"), home); dir != "" {
		return dir, nil
	}
	return home, nil
}

// parseUserDirs extracts XDG_VIDEOS_DIR from a user-dirs.dirs file.
// Lines look like: XDG_VIDEOS_DIR="$HOME/Videos"
// Returns the empty string if the file or entry is missing.
func parseUserDirs(path, home string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "XDG_VIDEOS_DIR=") {
			continue
		}
		val := strings.TrimPrefix(line, "XDG_VIDEOS_DIR=")
		val = strings.Trim(val, `"`)
		val = strings.ReplaceAll(val, "$HOME", home)
		if val == "" {
			return ""
		}
		return val
	}
	return ""
}
