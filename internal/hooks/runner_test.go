package hooks

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPassesArgsAndEnvironment(t *testing.T) {
	var out bytes.Buffer
	r := NewShell(Options{Enabled: true})
	r.Stdout = &out

	err := r.Run(context.Background(), "a", "postinst", []byte("echo \"$1 $PKG_ROOT\"\n"), "configure")
	require.NoError(t, err)
	assert.Equal(t, "configure /\n", out.String())
}

func TestRunDisabled(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	r := NewShell(Options{Enabled: false})

	require.NoError(t, r.Run(context.Background(), "a", "preinst", []byte("touch "+marker+"\n")))
	assert.NoFileExists(t, marker)
}

func TestRunOfflineRoot(t *testing.T) {
	root := t.TempDir()
	script := []byte("echo \"$OPKG_OFFLINE_ROOT\" > \"$PKG_ROOT/marker\"\n")

	r := NewShell(Options{Root: root, Enabled: true})
	require.NoError(t, r.Run(context.Background(), "a", "postinst", script, "configure"))
	assert.NoFileExists(t, filepath.Join(root, "marker"))

	r = NewShell(Options{Root: root, Enabled: true, ForcePostinstall: true})
	require.NoError(t, r.Run(context.Background(), "a", "postinst", script, "configure"))
	data, err := os.ReadFile(filepath.Join(root, "marker"))
	require.NoError(t, err)
	assert.Equal(t, root+"\n", string(data))
}

func TestRunInterceptsOnPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/share/opkg/intercept"), 0755))

	var out bytes.Buffer
	r := NewShell(Options{Root: root, Enabled: true, ForcePostinstall: true, InterceptsDir: "/usr/share/opkg/intercept"})
	r.Stdout = &out

	require.NoError(t, r.Run(context.Background(), "a", "postinst", []byte("echo \"$PATH\"\n")))
	assert.True(t, strings.HasPrefix(out.String(), filepath.Join(root, "usr/share/opkg/intercept")+":"))
}

func TestRunFailure(t *testing.T) {
	r := NewShell(Options{Enabled: true})
	r.Stderr = &bytes.Buffer{}

	err := r.Run(context.Background(), "a", "prerm", []byte("exit 3\n"), "remove")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prerm script of a failed")
}

func TestRunEmptyScript(t *testing.T) {
	r := NewShell(Options{Enabled: true})
	assert.NoError(t, r.Run(context.Background(), "a", "postrm", nil))
}
