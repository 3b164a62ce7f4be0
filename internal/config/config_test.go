package config

import (
	"runtime"
	"strings"
	"testing"

	"github.com/keenetic/opkg/internal/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConf = `# test configuration
arch all 1
arch mips 5
src test file:/tmp/feed
src/gz main file:///srv/feed
dest root /
lists_dir ext /var/lib/opkg/lists
option intercepts_dir /dev/null
option force_depends
option hooks no
option orphan_policy conservative
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile(strings.NewReader(testConf))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"all": 1, "mips": 5}, f.Arches)
	assert.Equal(t, []string{"all", "mips"}, f.ArchOrder)
	assert.Equal(t, []models.Source{
		{Name: "test", URL: "file:/tmp/feed"},
		{Name: "main", URL: "file:///srv/feed", Gzip: true},
	}, f.Sources)
	assert.Equal(t, []models.Dest{{Name: "root", Path: "/"}}, f.Dests)
	assert.Equal(t, "/var/lib/opkg/lists", f.Options["lists_dir"])
	assert.Equal(t, "/dev/null", f.Options["intercepts_dir"])
	assert.Equal(t, true, f.Options["force_depends"])
	assert.Equal(t, false, f.Options["hooks"])
}

func TestParseFileErrors(t *testing.T) {
	for _, bad := range []string{"src onlyname", "arch all high", "bogus x", "option", "dest x"} {
		_, err := ParseFile(strings.NewReader(bad))
		assert.ErrorIs(t, err, models.Err(models.ErrInvalidConfig), bad)
	}
}

func TestLoadLayers(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/etc/opkg/opkg.conf", []byte(testConf), 0644))

	t.Setenv("OPKG_NO_INSTALL_RECOMMENDS", "1")
	t.Setenv("OPKG_ADD_EXCLUDE", "foo,bar")

	opts, err := Load(fs, Overrides{
		OfflineRoot: "/root",
		AddArch:     []string{"a:2", "all:3"},
		Flags:       map[string]interface{}{"force_overwrite": true, "orphan_policy": "aggressive"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/root", opts.OfflineRoot)
	assert.Equal(t, "/root/etc/opkg/opkg.conf", opts.ConfFile)
	assert.Equal(t, "/var/lib/opkg", opts.StatusDir, "default kept")
	assert.Equal(t, "/dev/null", opts.InterceptsDir, "file overrides default")
	assert.True(t, opts.ForceDepends)
	assert.False(t, opts.Hooks)
	assert.True(t, opts.NoInstallRecommends, "environment applies")
	assert.Equal(t, []string{"foo", "bar"}, opts.AddExclude)
	assert.True(t, opts.ForceOverwrite, "flags apply")
	assert.Equal(t, "aggressive", opts.OrphanPolicy, "flags override the file")
	assert.Equal(t, map[string]int{"all": 3, "mips": 5, "a": 2}, opts.Arches)
	assert.Len(t, opts.Sources, 2)
	assert.Equal(t, "/root/var/lib/opkg", Path(opts, opts.StatusDir))
}

func TestLoadDefaults(t *testing.T) {
	opts, err := Load(afero.NewMemMapFs(), Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "/", opts.OfflineRoot)
	assert.True(t, opts.Hooks)
	assert.Equal(t, "greedy", opts.Solver)
	assert.Equal(t, 1, opts.Verbosity)
	assert.Equal(t, 10, opts.Arches[runtime.GOARCH])
	assert.Equal(t, 1, opts.Arches["all"])
}

func TestLoadMissingExplicitConf(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), Overrides{ConfFile: "/nope.conf"})
	assert.ErrorIs(t, err, models.Err(models.ErrInvalidConfig))
}

func TestLoadInvalidPolicy(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), Overrides{Flags: map[string]interface{}{"orphan_policy": "whatever"}})
	assert.ErrorIs(t, err, models.Err(models.ErrInvalidConfig))
}

func TestParseArch(t *testing.T) {
	name, prio, err := ParseArch("mips:7")
	require.NoError(t, err)
	assert.Equal(t, "mips", name)
	assert.Equal(t, 7, prio)

	_, _, err = ParseArch("mips")
	assert.Error(t, err)
}
