package status

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var scriptNames = []string{"preinst", "postinst", "prerm", "postrm"}

// Files returns the manifest recorded for name
func (db *DB) Files(name string) []models.FileEntry {
	return db.files[name]
}

// Owner returns the package owning path, or "" when unowned
func (db *DB) Owner(path string) string {
	return db.owners[path]
}

// Sharer returns another package whose file list carries path, or ""
func (db *DB) Sharer(name, path string) string {
	names := make([]string, 0, len(db.files))
	for n := range db.files {
		if n != name {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if _, ok := entryOf(db.files[n], path); ok {
			return n
		}
	}
	return ""
}

// SetFiles records entries as the manifest of name. Paths owned by other
// packages are transferred to name and dropped from their lists, except
// identical symlinks, which both packages keep listing under the first
// owner.
func (db *DB) SetFiles(name string, entries []models.FileEntry) error {
	affected := map[string]bool{name: true}

	var released []string
	for _, e := range db.files[name] {
		if db.owners[e.Path] == name {
			delete(db.owners, e.Path)
			released = append(released, e.Path)
		}
	}

	for _, e := range entries {
		prev := db.owners[e.Path]
		if prev != "" && prev != name {
			if theirs, ok := entryOf(db.files[prev], e.Path); ok && sameLink(theirs, e) {
				logrus.Debugf("Symlink %s is shared by %s and %s", e.Path, prev, name)
				continue
			}
			logrus.Debugf("Transferring ownership of %s from %s to %s", e.Path, prev, name)
			db.files[prev] = withoutPath(db.files[prev], e.Path)
			affected[prev] = true
		}
		db.owners[e.Path] = name
	}
	db.files[name] = append([]models.FileEntry(nil), entries...)

	for _, p := range released {
		if db.owners[p] != "" {
			continue
		}
		if other := db.Sharer(name, p); other != "" {
			db.owners[p] = other
		}
	}

	names := make([]string, 0, len(affected))
	for n := range affected {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if err := db.writeList(n); err != nil {
			return err
		}
	}
	return nil
}

func entryOf(entries []models.FileEntry, path string) (models.FileEntry, bool) {
	for _, e := range entries {
		if e.Path == path {
			return e, true
		}
	}
	return models.FileEntry{}, false
}

func sameLink(a, b models.FileEntry) bool {
	return a.Kind == models.FileSymlink && b.Kind == models.FileSymlink && a.Target == b.Target
}

func withoutPath(entries []models.FileEntry, path string) []models.FileEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Path != path {
			out = append(out, e)
		}
	}
	return out
}

func (db *DB) infoPath(name, suffix string) string {
	return filepath.Join(db.dir, infoDir, name+"."+suffix)
}

// writeList publishes info/<name>.list. Each line is the path, a kind
// letter with octal permissions, and the link target for symlinks.
func (db *DB) writeList(name string) error {
	var buf bytes.Buffer
	for _, e := range db.files[name] {
		kind := "f"
		switch e.Kind {
		case models.FileDir:
			kind = "d"
		case models.FileSymlink:
			kind = "l"
		}
		fmt.Fprintf(&buf, "%s\t%s%04o", e.Path, kind, e.Mode.Perm())
		if e.Kind == models.FileSymlink {
			fmt.Fprintf(&buf, "\t%s", e.Target)
		}
		buf.WriteString("\n")
	}

	if err := utils.AtomicWriteFile(db.fs, db.infoPath(name, "list"), buf.Bytes(), 0644); err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: fmt.Errorf("failed to write file list: %w", err)}
	}
	return nil
}

func (db *DB) loadList(name string) error {
	data, err := afero.ReadFile(db.fs, db.infoPath(name, "list"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: fmt.Errorf("failed to read file list: %w", err)}
	}

	var entries []models.FileEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := parseListLine(line)
		if err != nil {
			return &models.OpkgError{Type: models.ErrPackageParse, Package: name, Err: err}
		}
		entries = append(entries, entry)
		if prev := db.owners[entry.Path]; prev != "" && prev != name {
			if theirs, ok := entryOf(db.files[prev], entry.Path); ok && sameLink(theirs, entry) {
				continue
			}
			logrus.Warnf("%s is listed by both %s and %s", entry.Path, prev, name)
		}
		db.owners[entry.Path] = name
	}
	db.files[name] = entries
	return scanner.Err()
}

// parseListLine accepts both the annotated form and bare paths
func parseListLine(line string) (models.FileEntry, error) {
	parts := strings.Split(line, "\t")
	entry := models.FileEntry{Path: parts[0], Kind: models.FileRegular, Mode: 0644}
	if len(parts) < 2 || parts[1] == "" {
		return entry, nil
	}

	switch parts[1][0] {
	case 'f':
		entry.Kind = models.FileRegular
	case 'd':
		entry.Kind = models.FileDir
	case 'l':
		entry.Kind = models.FileSymlink
	default:
		return entry, fmt.Errorf("bad file list entry %q", line)
	}

	mode, err := strconv.ParseUint(parts[1][1:], 8, 32)
	if err != nil {
		return entry, fmt.Errorf("bad mode in file list entry %q", line)
	}
	entry.Mode = fs.FileMode(mode)

	if entry.Kind == models.FileSymlink && len(parts) > 2 {
		entry.Target = parts[2]
	}
	return entry, nil
}

// SaveInfo writes info/<name>.control and the maintainer scripts of pkg,
// removing scripts left from a previous version
func (db *DB) SaveInfo(pkg *models.PackageVersion, scripts map[string][]byte) error {
	var buf bytes.Buffer
	if err := control.Write(&buf, control.FromPackage(pkg).Without(recordFields...)); err != nil {
		return err
	}
	if err := utils.AtomicWriteFile(db.fs, db.infoPath(pkg.Name, "control"), buf.Bytes(), 0644); err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Package: pkg.Name, Err: err}
	}

	for _, script := range scriptNames {
		path := db.infoPath(pkg.Name, script)
		body, ok := scripts[script]
		if !ok {
			if err := db.fs.Remove(path); err != nil && !os.IsNotExist(err) {
				return &models.OpkgError{Type: models.ErrFileOp, Package: pkg.Name, Err: err}
			}
			continue
		}
		if err := utils.AtomicWriteFile(db.fs, path, body, 0755); err != nil {
			return &models.OpkgError{Type: models.ErrFileOp, Package: pkg.Name, Err: err}
		}
	}
	return nil
}

// ScriptPath returns the stored location of a maintainer script, or ""
// when the package does not ship it
func (db *DB) ScriptPath(name, script string) string {
	path := db.infoPath(name, script)
	if ok, _ := afero.Exists(db.fs, path); ok {
		return path
	}
	return ""
}

// HasInfo reports whether info/<name>.control exists
func (db *DB) HasInfo(name string) bool {
	ok, _ := afero.Exists(db.fs, db.infoPath(name, "control"))
	return ok
}

func (db *DB) removeScripts(name string) error {
	for _, script := range scriptNames {
		if err := db.fs.Remove(db.infoPath(name, script)); err != nil && !os.IsNotExist(err) {
			return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: err}
		}
	}
	return nil
}

func (db *DB) removeInfo(name string) error {
	suffixes := append([]string{"control", "list"}, scriptNames...)
	for _, suffix := range suffixes {
		if err := db.fs.Remove(db.infoPath(name, suffix)); err != nil && !os.IsNotExist(err) {
			return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: err}
		}
	}
	return nil
}
