// Package hooks runs package maintainer scripts.
package hooks

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Runner executes a maintainer script of a package
type Runner interface {
	Run(ctx context.Context, pkg, script string, body []byte, args ...string) error
}

// Options control when and how scripts run
type Options struct {
	// Installation root; empty or "/" for the running system
	Root string

	// Directory of intercept wrappers prepended to PATH
	InterceptsDir string

	Enabled bool

	// Run scripts even when installing into an offline root
	ForcePostinstall bool
}

// Shell runs scripts with /bin/sh
type Shell struct {
	opts   Options
	fs     afero.Fs
	Stdout io.Writer
	Stderr io.Writer
}

// NewShell creates a shell runner
func NewShell(opts Options) *Shell {
	return &Shell{opts: opts, fs: afero.NewOsFs()}
}

func (s *Shell) offline() bool {
	return s.opts.Root != "" && filepath.Clean(s.opts.Root) != "/"
}

// Run writes body to a temporary file and executes it with args. Scripts
// are skipped when hooks are disabled, and in an offline root unless
// forced.
func (s *Shell) Run(ctx context.Context, pkg, script string, body []byte, args ...string) error {
	if len(body) == 0 {
		return nil
	}
	if !s.opts.Enabled {
		logrus.Debugf("Hooks disabled, not running %s.%s", pkg, script)
		return nil
	}
	if s.offline() && !s.opts.ForcePostinstall {
		logrus.Infof("Offline root mode: not running %s.%s", pkg, script)
		return nil
	}

	f, err := afero.TempFile(s.fs, "", fmt.Sprintf("opkg-%s.%s-", pkg, script))
	if err != nil {
		return fmt.Errorf("failed to stage %s.%s: %w", pkg, script, err)
	}
	defer s.fs.Remove(f.Name())

	if _, err := f.Write(body); err != nil {
		f.Close()
		return fmt.Errorf("failed to stage %s.%s: %w", pkg, script, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to stage %s.%s: %w", pkg, script, err)
	}

	root := s.opts.Root
	if root == "" {
		root = "/"
	}

	logrus.Debugf("Running %s.%s %s", pkg, script, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, "/bin/sh", append([]string{f.Name()}, args...)...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "PKG_ROOT="+root, "PATH="+s.path())
	if s.offline() {
		cmd.Env = append(cmd.Env, "OPKG_OFFLINE_ROOT="+root)
	}

	stdout := s.Stdout
	if stdout == nil {
		w := logrus.StandardLogger().WriterLevel(logrus.InfoLevel)
		defer w.Close()
		stdout = w
	}
	stderr := s.Stderr
	if stderr == nil {
		w := logrus.StandardLogger().WriterLevel(logrus.WarnLevel)
		defer w.Close()
		stderr = w
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s script of %s failed: %w", script, pkg, err)
	}
	return nil
}

func (s *Shell) path() string {
	path := os.Getenv("PATH")
	if s.opts.InterceptsDir == "" {
		return path
	}
	dir := filepath.Join(s.opts.Root, s.opts.InterceptsDir)
	if ok, _ := afero.DirExists(s.fs, dir); !ok {
		return path
	}
	return dir + string(os.PathListSeparator) + path
}
