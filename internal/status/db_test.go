package status

import (
	"strings"
	"testing"

	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dbDir = "/var/lib/opkg"

func newPackage(name, ver string) *models.PackageVersion {
	return &models.PackageVersion{Name: name, Version: ver, Architecture: "all"}
}

func TestUpsertAndReopen(t *testing.T) {
	fs := afero.NewMemMapFs()

	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)
	assert.Empty(t, db.Installed())

	a := newPackage("a", "1.0")
	a.Depends = []models.Alternatives{{{Name: "b", Op: models.OpLaterEqual, Version: "1.0"}}}
	require.NoError(t, db.Upsert(&models.InstalledRecord{Package: a, Want: models.WantInstall, State: models.StateInstalled, InstalledTime: 42}))
	require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage("b", "1.0"), Want: models.WantInstall, State: models.StateInstalled, AutoInstalled: true}))
	require.NoError(t, db.SetHold("a", true))

	data, err := afero.ReadFile(fs, dbDir+"/status")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Status: install hold installed")
	assert.Contains(t, string(data), "Auto-Installed: yes")

	db, err = Open(fs, dbDir, nil)
	require.NoError(t, err)
	require.Len(t, db.Installed(), 2)

	rec, ok := db.Get("a")
	require.True(t, ok)
	assert.True(t, rec.Hold)
	assert.Equal(t, int64(42), rec.InstalledTime)
	assert.Equal(t, "b (>= 1.0)", rec.Package.Depends[0].String())
	assert.True(t, db.IsAutoInstalled("b"))
	assert.False(t, db.IsAutoInstalled("a"))
	assert.False(t, db.IsAutoInstalled("missing"))
}

func TestOpenInternsIntoCatalog(t *testing.T) {
	fs := afero.NewMemMapFs()
	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)
	require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage("a", "1.0"), Want: models.WantInstall, State: models.StateInstalled}))

	cat := catalog.New(map[string]int{"all": 1})
	feedCopy, _ := cat.Add(newPackage("a", "1.0"))

	db, err = Open(fs, dbDir, cat)
	require.NoError(t, err)
	rec, _ := db.Get("a")
	assert.Same(t, feedCopy, rec.Package)
}

func TestHalfInstalledSurvivesReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)
	require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage("a", "1.0"), Want: models.WantInstall, State: models.StateHalfInstalled}))

	data, err := afero.ReadFile(fs, dbDir+"/status")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Status: install ok half-installed")

	db, err = Open(fs, dbDir, nil)
	require.NoError(t, err)
	rec, ok := db.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.StateHalfInstalled, rec.State)
	assert.False(t, rec.Present())
}

func TestCorruptStatusEntryIsSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "Package: a\nVersion: 1.0\nStatus: install ok bogus\n\nPackage: b\nVersion: 2.0\nStatus: install ok installed\n"
	require.NoError(t, afero.WriteFile(fs, dbDir+"/status", []byte(content), 0644))

	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)
	_, ok := db.Get("a")
	assert.False(t, ok)
	_, ok = db.Get("b")
	assert.True(t, ok)
}

func TestFileOwnershipTransfer(t *testing.T) {
	fs := afero.NewMemMapFs()
	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage(name, "1.0"), Want: models.WantInstall, State: models.StateInstalled}))
	}

	require.NoError(t, db.SetFiles("a", []models.FileEntry{
		{Path: "/usr", Kind: models.FileDir, Mode: 0755},
		{Path: "/usr/foo", Kind: models.FileRegular, Mode: 0644},
		{Path: "/lib", Kind: models.FileSymlink, Mode: 0777, Target: "lib64"},
	}))
	require.NoError(t, db.SetFiles("b", []models.FileEntry{
		{Path: "/usr/foo", Kind: models.FileRegular, Mode: 0600},
	}))

	assert.Equal(t, "b", db.Owner("/usr/foo"))
	assert.Equal(t, "a", db.Owner("/lib"))
	assert.Len(t, db.Files("a"), 2)

	list, err := afero.ReadFile(fs, dbDir+"/info/a.list")
	require.NoError(t, err)
	assert.Equal(t, "/usr\td0755\n/lib\tl0777\tlib64\n", string(list))

	db, err = Open(fs, dbDir, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", db.Owner("/usr/foo"))
	assert.Equal(t, "lib64", db.Files("a")[1].Target)
	assert.Equal(t, models.FileSymlink, db.Files("a")[1].Kind)

	require.NoError(t, db.Remove("b"))
	assert.Equal(t, "", db.Owner("/usr/foo"))
	exists, _ := afero.Exists(fs, dbDir+"/info/b.list")
	assert.False(t, exists)
}

func TestSaveInfoAndScripts(t *testing.T) {
	fs := afero.NewMemMapFs()
	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)

	pkg := newPackage("a", "1.0")
	require.NoError(t, db.SaveInfo(pkg, map[string][]byte{"postinst": []byte("#!/bin/sh\n")}))
	assert.True(t, db.HasInfo("a"))
	assert.NotEmpty(t, db.ScriptPath("a", "postinst"))
	assert.Empty(t, db.ScriptPath("a", "prerm"))

	control, err := afero.ReadFile(fs, dbDir+"/info/a.control")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(control), "Package: a\nVersion: 1.0\n"))

	pkg2 := newPackage("a", "2.0")
	require.NoError(t, db.SaveInfo(pkg2, nil))
	assert.Empty(t, db.ScriptPath("a", "postinst"))
}

func TestParseListLineBare(t *testing.T) {
	e, err := parseListLine("/usr/bin/foo")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/foo", e.Path)
	assert.Equal(t, models.FileRegular, e.Kind)

	_, err = parseListLine("/x\tq0644")
	assert.Error(t, err)
}

func TestSharedSymlinkHandover(t *testing.T) {
	link := models.FileEntry{Path: "/opt/link", Kind: models.FileSymlink, Mode: 0777, Target: "t"}

	for _, first := range []string{"a", "b"} {
		t.Run("remove "+first, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			db, err := Open(fs, dbDir, nil)
			require.NoError(t, err)
			for _, name := range []string{"a", "b"} {
				require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage(name, "1.0"), Want: models.WantInstall, State: models.StateInstalled}))
				require.NoError(t, db.SetFiles(name, []models.FileEntry{link}))
			}
			assert.Equal(t, "a", db.Owner("/opt/link"))
			assert.Equal(t, "b", db.Sharer("a", "/opt/link"))
			assert.Equal(t, "a", db.Sharer("b", "/opt/link"))
			assert.Len(t, db.Files("a"), 1)
			assert.Len(t, db.Files("b"), 1)

			db, err = Open(fs, dbDir, nil)
			require.NoError(t, err)
			assert.Equal(t, "a", db.Owner("/opt/link"))

			other := map[string]string{"a": "b", "b": "a"}[first]
			require.NoError(t, db.Remove(first))
			assert.Equal(t, other, db.Owner("/opt/link"))
			assert.Equal(t, "", db.Sharer(other, "/opt/link"))
		})
	}

	t.Run("dropped from the owner's list", func(t *testing.T) {
		db, err := Open(afero.NewMemMapFs(), dbDir, nil)
		require.NoError(t, err)
		for _, name := range []string{"a", "b"} {
			require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage(name, "1.0"), Want: models.WantInstall, State: models.StateInstalled}))
			require.NoError(t, db.SetFiles(name, []models.FileEntry{link}))
		}
		require.NoError(t, db.SetFiles("a", nil))
		assert.Equal(t, "b", db.Owner("/opt/link"))
	})

	t.Run("different target takes over", func(t *testing.T) {
		db, err := Open(afero.NewMemMapFs(), dbDir, nil)
		require.NoError(t, err)
		for _, name := range []string{"a", "b"} {
			require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage(name, "1.0"), Want: models.WantInstall, State: models.StateInstalled}))
		}
		require.NoError(t, db.SetFiles("a", []models.FileEntry{link}))
		moved := link
		moved.Target = "elsewhere"
		require.NoError(t, db.SetFiles("b", []models.FileEntry{moved}))
		assert.Equal(t, "b", db.Owner("/opt/link"))
		assert.Empty(t, db.Files("a"))
	})
}

func TestKeepConffiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)

	pkg := newPackage("a", "1.0")
	require.NoError(t, db.Upsert(&models.InstalledRecord{Package: pkg, Want: models.WantInstall, State: models.StateInstalled, AutoInstalled: true}))
	require.NoError(t, db.SetFiles("a", []models.FileEntry{
		{Path: "/etc", Kind: models.FileDir, Mode: 0755},
		{Path: "/etc/a.conf", Kind: models.FileRegular, Mode: 0644},
		{Path: "/etc/b.conf", Kind: models.FileRegular, Mode: 0644},
		{Path: "/usr/bin/a", Kind: models.FileRegular, Mode: 0755},
	}))
	conffiles := []models.Conffile{
		{Path: "/etc/a.conf", MD5: "d41d8cd98f00b204e9800998ecf8427e"},
		{Path: "/etc/b.conf", MD5: "0cc175b9c0f1b6a831c399e269772661"},
	}
	require.NoError(t, db.SetConffiles("a", conffiles))
	require.NoError(t, db.SaveInfo(pkg, map[string][]byte{"postrm": []byte("#!/bin/sh\n")}))

	db, err = Open(fs, dbDir, nil)
	require.NoError(t, err)
	assert.Equal(t, conffiles, db.Conffiles("a"))

	require.NoError(t, db.KeepConffiles("a", conffiles[:1]))

	data, err := afero.ReadFile(fs, dbDir+"/status")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Status: deinstall ok config-files")
	assert.Contains(t, string(data), "/etc/a.conf d41d8cd98f00b204e9800998ecf8427e")
	assert.NotContains(t, string(data), "/etc/b.conf")
	assert.NotContains(t, string(data), "Auto-Installed")

	db, err = Open(fs, dbDir, nil)
	require.NoError(t, err)
	rec, ok := db.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.StateConfigFiles, rec.State)
	assert.Equal(t, conffiles[:1], rec.Conffiles)
	assert.Equal(t, []models.FileEntry{{Path: "/etc/a.conf", Kind: models.FileRegular, Mode: 0644}}, db.Files("a"))
	assert.Equal(t, "a", db.Owner("/etc/a.conf"))
	assert.Equal(t, "", db.Owner("/usr/bin/a"))
	assert.Equal(t, "", db.ScriptPath("a", "postrm"))

	require.NoError(t, db.SetConffiles("missing", conffiles))
	_, ok = db.Get("missing")
	assert.False(t, ok)
}

func TestFailedWriteKeepsRecords(t *testing.T) {
	fs := afero.NewMemMapFs()
	db, err := Open(fs, dbDir, nil)
	require.NoError(t, err)
	require.NoError(t, db.Upsert(&models.InstalledRecord{Package: newPackage("a", "1.0"), Want: models.WantInstall, State: models.StateInstalled}))

	db, err = Open(afero.NewReadOnlyFs(fs), dbDir, nil)
	require.NoError(t, err)

	err = db.Upsert(&models.InstalledRecord{Package: newPackage("a", "2.0"), Want: models.WantInstall, State: models.StateUnpacked})
	assert.ErrorIs(t, err, models.Err(models.ErrFileOp))
	assert.ErrorIs(t, db.SetState("a", models.StateHalfConfigured), models.Err(models.ErrFileOp))
	assert.Error(t, db.Upsert(&models.InstalledRecord{Package: newPackage("b", "1.0"), Want: models.WantInstall, State: models.StateInstalled}))
	assert.Error(t, db.Remove("a"))

	rec, ok := db.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1.0", rec.Version())
	assert.Equal(t, models.StateInstalled, rec.State)
	_, ok = db.Get("b")
	assert.False(t, ok)
	assert.Len(t, db.Installed(), 1)
	assert.ErrorIs(t, db.SetState("missing", models.StateInstalled), models.Err(models.ErrUnknownPackage))
}
