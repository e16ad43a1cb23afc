package notify

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// fallbackOpeners are absolute paths tried after PATH lookup fails,
// covering NixOS and conventional FHS layouts. Package variable so
// tests can substitute their own binaries.
var fallbackOpeners = []string{
	"/run/current-system/sw/bin/xdg-open",
	"/usr/bin/xdg-open",
	"/bin/xdg-open",
	"/run/current-system/sw/bin/gio",
	"/usr/bin/gio",
	"/bin/gio",
}

type openCommand struct {
	program string
	args    []string
}

// openArgs returns the argument list for a given opener program.
// gio needs an "open" subcommand; everything else takes the file
// directly.
func openArgs(program, file string) []string {
	if filepath.Base(program) == "gio" {
		return []string{"open", file}
	}
	return []string{file}
}

// openCandidates builds the ordered opener list: the user-configured
// override first, then openers found on PATH, then well-known absolute
// fallbacks. Duplicates are dropped.
func openCandidates(file, override string) []openCommand {
	var candidates []openCommand
	seen := make(map[string]bool)

	if trimmed := strings.TrimSpace(override); trimmed != "" {
		candidates = append(candidates, openCommand{program: trimmed, args: []string{file}})
		seen[trimmed] = true
	}

	for _, program := range []string{"xdg-open", "gio"} {
		path, err := exec.LookPath(program)
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true
		candidates = append(candidates, openCommand{program: path, args: openArgs(program, file)})
	}

	for _, path := range fallbackOpeners {
		if seen[path] {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		seen[path] = true
		candidates = append(candidates, openCommand{program: path, args: openArgs(path, file)})
	}

	return candidates
}

// OpenFile launches a file opener for the given path, fire-and-forget:
// once an opener starts, its outcome is not tracked. A spawn failure
// other than not-found aborts the chain; not-found moves on to the
// next candidate.
func OpenFile(file, override string) error {
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("file does not exist: %s", file)
	}

	for _, c := range openCandidates(file, override) {
		err := exec.Command(c.program, c.args...).Start()
		if err == nil {
			return nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			continue
		}
		return fmt.Errorf("run %s: %w", c.program, err)
	}

	return errors.New("no file opener found (tried xdg-open and gio)")
}
