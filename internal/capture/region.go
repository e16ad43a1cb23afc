package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SlurpSelector selects a screen region by running slurp. The output
// is a geometry string in the WxH+X+Y form the capture tool expects.
type SlurpSelector struct {
	// command is the selector invocation, overridable in tests.
	command []string
}

// NewSlurpSelector creates the production region selector.
func NewSlurpSelector() *SlurpSelector {
	return &SlurpSelector{command: []string{"slurp", "-f", "%wx%h+%x+%y"}}
}

// Select blocks until the user confirms or cancels the selection.
// A nonzero exit or empty output is reported as an error; the session
// record must stay untouched in that case.
func (s *SlurpSelector) Select(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	cmd.Env = selectorEnv(os.Environ())

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			return "", fmt.Errorf("region selection cancelled: %s", stderr)
		}
		return "", fmt.Errorf("run %s: %w", s.command[0], err)
	}

	region := strings.TrimSpace(string(out))
	if region == "" {
		return "", errors.New("no region selected")
	}
	return region, nil
}

// selectorEnv passes a cursor theme and size through to the selector
// when the caller's environment doesn't set them. The theme is read
// from niri's config so slurp's crosshair matches the compositor.
func selectorEnv(base []string) []string {
	env := base
	if !envHas(base, "XCURSOR_THEME") {
		if theme := detectCursorTheme(); theme != "" {
			env = append(env, "XCURSOR_THEME="+theme)
		}
	}
	if !envHas(base, "XCURSOR_SIZE") {
		env = append(env, "XCURSOR_SIZE=24")
	}
	return env
}

func envHas(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// detectCursorTheme reads the xcursor-theme entry from niri's
// config.kdl. Returns the empty string if the config or entry is
// missing.
func detectCursorTheme() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configHome, "niri", "config.kdl"))
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "xcursor-theme") {
			continue
		}
		val := strings.TrimSpace(strings.TrimPrefix(line, "xcursor-theme"))
		val = strings.TrimPrefix(val, `"`)
		val = strings.TrimSuffix(val, `"`)
		return val
	}
	return ""
}
