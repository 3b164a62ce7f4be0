package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"-V", "0"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writePackageDir lays out a package source tree for the build command
func writePackageDir(t *testing.T, name, version, extra string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "CONTROL"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "usr/bin"), 0755))

	ctrl := fmt.Sprintf("Package: %s\nVersion: %s\nArchitecture: all\nDescription: test package %s\n%s", name, version, name, extra)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CONTROL/control"), []byte(ctrl), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usr/bin", name), []byte("#!/bin/sh\n"), 0755))
	return dir
}

func TestEndToEnd(t *testing.T) {
	root := t.TempDir()
	feedDir := t.TempDir()

	for _, p := range []struct{ name, version, extra string }{
		{"hello", "1.0", "Depends: libhello\n"},
		{"libhello", "1.0", ""},
	} {
		_, err := execute(t, "build", writePackageDir(t, p.name, p.version, p.extra), feedDir)
		require.NoError(t, err)
	}
	_, err := execute(t, "make-index", feedDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(feedDir, "Packages.gz"))

	conf := filepath.Join(root, "etc/opkg/opkg.conf")
	require.NoError(t, os.MkdirAll(filepath.Dir(conf), 0755))
	require.NoError(t, os.WriteFile(conf, []byte("src/gz test file:"+feedDir+"\narch all 1\n"), 0644))

	_, err = execute(t, "-o", root, "update")
	require.NoError(t, err)

	out, err := execute(t, "-o", root, "list")
	require.NoError(t, err)
	assert.Equal(t, "hello - 1.0 - test package hello\nlibhello - 1.0 - test package libhello\n", out)

	_, err = execute(t, "-o", root, "install", "hello")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "usr/bin/hello"))
	assert.FileExists(t, filepath.Join(root, "usr/bin/libhello"))

	out, err = execute(t, "-o", root, "list-installed")
	require.NoError(t, err)
	assert.Equal(t, "hello - 1.0\nlibhello - 1.0\n", out)

	out, err = execute(t, "-o", root, "files", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Package hello (1.0) is installed on root and has the following files:\n/usr/bin/hello\n", out)

	out, err = execute(t, "-o", root, "info", "libhello", "--fields", "Version")
	require.NoError(t, err)
	assert.Equal(t, "Package: libhello\nVersion: 1.0\n\n", out)

	out, err = execute(t, "-o", root, "status", "libhello")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: install ok installed\n")
	assert.Contains(t, out, "Auto-Installed: yes\n")

	_, err = execute(t, "-o", root, "remove", "libhello")
	require.Error(t, err, "hello still depends on libhello")

	_, err = execute(t, "-o", root, "--force-removal-of-dependent-packages", "remove", "libhello")
	require.NoError(t, err)
	out, err = execute(t, "-o", root, "list-installed")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, op, b string
		ok       bool
	}{
		{"1.0", "<<", "1.1", true},
		{"1.0", ">>", "1.1", false},
		{"1:0.9", ">=", "2.0", true},
		{"1.0~rc1", "<", "1.0", true},
		{"2.0-r1", "=", "2.0-r1", true},
	}
	for _, tt := range tests {
		_, err := execute(t, "compare-versions", tt.a, tt.op, tt.b)
		if tt.ok {
			assert.NoError(t, err, "%s %s %s", tt.a, tt.op, tt.b)
		} else {
			assert.Error(t, err, "%s %s %s", tt.a, tt.op, tt.b)
		}
	}

	_, err := execute(t, "compare-versions", "1.0", "~~", "1.0")
	assert.Error(t, err)
}

func TestPrintArchitecture(t *testing.T) {
	root := t.TempDir()
	conf := filepath.Join(root, "etc/opkg/opkg.conf")
	require.NoError(t, os.MkdirAll(filepath.Dir(conf), 0755))
	require.NoError(t, os.WriteFile(conf, []byte("arch all 1\narch mipsel 10\n"), 0644))

	out, err := execute(t, "-o", root, "--add-arch", "mipsel_24kc:20", "print-architecture")
	require.NoError(t, err)
	assert.Equal(t, "arch all 1\narch mipsel 10\narch mipsel_24kc 20\n", out)
}

func TestListFlagUsage(t *testing.T) {
	flags := NewRootCmd().PersistentFlags()

	ignore := flags.Lookup("add-ignore-recommends")
	require.NotNil(t, ignore)
	assert.Equal(t, "Do not install recommended packages matching the pattern", ignore.Usage)

	exclude := flags.Lookup("add-exclude")
	require.NotNil(t, exclude)
	assert.Contains(t, exclude.Usage, "Exclude packages")
}
