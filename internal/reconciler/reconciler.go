// Package reconciler applies package file manifests to the target root and
// keeps the file ownership index in step with what is on disk.
package reconciler

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Suffix of payload files written next to their final path before the
// rename that publishes them
const newSuffix = ".opkg-new"

// Suffix of the packaged version of a conffile the user modified
const conffileSuffix = "-opkg"

// Symlink chains longer than this are treated as dangling
const maxLinkDepth = 16

// Ownership is the file ownership index
type Ownership interface {
	Owner(path string) string
	Sharer(name, path string) string
	Files(name string) []models.FileEntry
	SetFiles(name string, entries []models.FileEntry) error
	Conffiles(name string) []models.Conffile
	SetConffiles(name string, conffiles []models.Conffile) error
}

// Payload is the data side of a package
type Payload interface {
	Manifest() []models.FileEntry
	Walk(fn func(models.FileEntry, io.Reader) error) error
}

// ConffileLister is implemented by payloads that declare conffiles
type ConffileLister interface {
	Conffiles() []string
}

// Options relax the conflict checks
type Options struct {
	ForceOverwrite bool
}

// Reconciler writes and removes package files under a root. Manifest
// paths and absolute symlink targets are relative to the root; symlinks
// are stored with their targets verbatim.
type Reconciler struct {
	fs   afero.Fs
	root string
	db   Ownership
	opts Options
}

// New creates a reconciler installing into root on fs
func New(fs afero.Fs, root string, db Ownership, opts Options) *Reconciler {
	if root == "" {
		root = "/"
	}
	return &Reconciler{fs: fs, root: root, db: db, opts: opts}
}

// real maps a manifest path onto fs
func (r *Reconciler) real(p string) string {
	return filepath.Join(r.root, filepath.FromSlash(p))
}

// Conflict is a path the package cannot take without force-overwrite
type Conflict struct {
	Path  string
	Owner string
}

// Check returns the paths of manifest that name may not write. Paths
// owned by packages listed in replaces are free to take.
func (r *Reconciler) Check(name string, replaces []string, manifest []models.FileEntry) []Conflict {
	var out []Conflict
	for _, e := range manifest {
		owner := r.db.Owner(e.Path)
		foreign := owner != "" && owner != name && !contains(replaces, owner)

		fi, err := r.lstat(e.Path)
		if err != nil {
			continue
		}
		isLink := fi.Mode()&os.ModeSymlink != 0

		switch e.Kind {
		case models.FileDir:
			if fi.IsDir() || (isLink && r.resolvesToDir(e.Path)) {
				continue
			}
			if foreign || !r.opts.ForceOverwrite {
				out = append(out, Conflict{Path: e.Path, Owner: owner})
			}
		case models.FileSymlink:
			if fi.IsDir() {
				// A symlink never replaces a real directory
				out = append(out, Conflict{Path: e.Path, Owner: owner})
				continue
			}
			if isLink && r.readlink(e.Path) == e.Target {
				continue
			}
			if foreign && !r.opts.ForceOverwrite {
				out = append(out, Conflict{Path: e.Path, Owner: owner})
			}
		default:
			if fi.IsDir() {
				out = append(out, Conflict{Path: e.Path, Owner: owner})
				continue
			}
			if foreign && !r.opts.ForceOverwrite {
				out = append(out, Conflict{Path: e.Path, Owner: owner})
			}
		}
	}
	return out
}

// Install writes the payload of name and records its manifest. Nothing is
// written when a path conflicts. Files of the previous version that the
// new manifest no longer lists are removed. A conffile the user changed
// since the previous install keeps its content; the packaged version is
// written next to it with the -opkg suffix.
func (r *Reconciler) Install(name string, replaces []string, payload Payload) error {
	manifest := payload.Manifest()
	if conflicts := r.Check(name, replaces, manifest); len(conflicts) > 0 {
		return conflictError(name, conflicts)
	}

	isConf := make(map[string]bool)
	if l, ok := payload.(ConffileLister); ok {
		for _, p := range l.Conffiles() {
			isConf[p] = true
		}
	}
	previous := make(map[string]string)
	for _, c := range r.db.Conffiles(name) {
		previous[c.Path] = c.MD5
	}

	// Directories reached through someone else's symlink are used, not owned
	linked := make(map[string]bool)
	var conffiles []models.Conffile
	err := payload.Walk(func(e models.FileEntry, content io.Reader) error {
		switch e.Kind {
		case models.FileDir:
			if fi, err := r.lstat(e.Path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				linked[e.Path] = true
			}
			return r.writeDir(e)
		case models.FileSymlink:
			return r.writeSymlink(e)
		default:
			if !isConf[e.Path] {
				return r.writeFile(r.real(e.Path), e, content)
			}
			sum, err := r.writeConffile(e, content, previous[e.Path])
			if err != nil {
				return err
			}
			conffiles = append(conffiles, models.Conffile{Path: e.Path, MD5: sum})
			return nil
		}
	})
	if err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: fmt.Errorf("failed to unpack: %w", err)}
	}

	owned := make([]models.FileEntry, 0, len(manifest))
	for _, e := range manifest {
		if !linked[e.Path] {
			owned = append(owned, e)
		}
	}
	if err := r.removeObsolete(name, owned); err != nil {
		return err
	}
	if err := r.db.SetFiles(name, owned); err != nil {
		return err
	}
	return r.db.SetConffiles(name, conffiles)
}

// writeConffile installs a conffile and returns the digest of its packaged
// content. recorded is the digest the previous install shipped.
func (r *Reconciler) writeConffile(e models.FileEntry, content io.Reader, recorded string) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	packaged, err := utils.CalculateReaderChecksums(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	current := r.digest(e.Path)
	if recorded == "" || current == "" || current == recorded {
		return packaged.MD5, r.writeFile(r.real(e.Path), e, bytes.NewReader(data))
	}
	if current == packaged.MD5 {
		return packaged.MD5, nil
	}

	logrus.Warnf("Existing conffile %s is different from the conffile in the new package. "+
		"The new conffile will be placed at %s%s.", e.Path, e.Path, conffileSuffix)
	return packaged.MD5, r.writeFile(r.real(e.Path)+conffileSuffix, e, bytes.NewReader(data))
}

// digest returns the MD5 of the regular file at p, or "" when there is none
func (r *Reconciler) digest(p string) string {
	fi, err := r.lstat(p)
	if err != nil || !fi.Mode().IsRegular() {
		return ""
	}
	f, err := r.fs.Open(r.real(p))
	if err != nil {
		return ""
	}
	defer f.Close()
	sum, err := utils.CalculateReaderChecksums(f)
	if err != nil {
		return ""
	}
	return sum.MD5
}

// Exists reports whether anything is at manifest path p
func (r *Reconciler) Exists(p string) bool {
	_, err := r.lstat(p)
	return err == nil
}

// ModifiedConffiles returns the conffiles of name that are still on disk
// with content other than what the package shipped
func (r *Reconciler) ModifiedConffiles(name string) []models.Conffile {
	var out []models.Conffile
	for _, c := range r.db.Conffiles(name) {
		if r.db.Owner(c.Path) != name {
			continue
		}
		if sum := r.digest(c.Path); sum != "" && sum != c.MD5 {
			out = append(out, c)
		}
	}
	return out
}

// Remove deletes the files still attributed to name. Paths taken over by
// another package are left alone, as are modified conffiles; directories
// go only when empty.
func (r *Reconciler) Remove(name string) error {
	return r.removeEntries(name, r.db.Files(name))
}

func (r *Reconciler) removeObsolete(name string, manifest []models.FileEntry) error {
	keep := make(map[string]bool, len(manifest))
	for _, e := range manifest {
		keep[e.Path] = true
	}
	var obsolete []models.FileEntry
	for _, e := range r.db.Files(name) {
		if !keep[e.Path] {
			obsolete = append(obsolete, e)
		}
	}
	return r.removeEntries(name, obsolete)
}

func (r *Reconciler) removeEntries(name string, entries []models.FileEntry) error {
	modified := make(map[string]bool)
	for _, c := range r.ModifiedConffiles(name) {
		modified[c.Path] = true
	}

	var dirs []string
	for _, e := range entries {
		if r.db.Owner(e.Path) != name {
			logrus.Debugf("Not removing %s, now owned by %s", e.Path, r.db.Owner(e.Path))
			continue
		}
		if e.Kind == models.FileDir {
			dirs = append(dirs, e.Path)
			continue
		}
		if other := r.db.Sharer(name, e.Path); other != "" {
			logrus.Debugf("Not removing %s, also shipped by %s", e.Path, other)
			continue
		}
		if modified[e.Path] {
			logrus.Infof("Not deleting modified conffile %s.", e.Path)
			continue
		}
		if _, err := r.lstat(e.Path); err != nil {
			continue
		}
		logrus.Debugf("Deleting %s", e.Path)
		if err := r.fs.Remove(r.real(e.Path)); err != nil && !os.IsNotExist(err) {
			return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: fmt.Errorf("failed to remove %s: %w", e.Path, err)}
		}
	}

	// Deepest first, so emptied children free their parents
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
	for _, d := range dirs {
		fi, err := r.lstat(d)
		if err != nil || !fi.IsDir() {
			continue
		}
		if empty, _ := afero.IsEmpty(r.fs, r.real(d)); !empty {
			logrus.Debugf("Keeping non-empty directory %s", d)
			continue
		}
		if err := r.fs.Remove(r.real(d)); err != nil {
			logrus.Warnf("Failed to remove directory %s: %v", d, err)
		}
	}
	return nil
}

func (r *Reconciler) writeDir(e models.FileEntry) error {
	dst := r.real(e.Path)
	if fi, err := r.lstat(e.Path); err == nil {
		if fi.IsDir() || r.resolvesToDir(e.Path) {
			// Existing directories keep their permissions
			return nil
		}
		if err := r.fs.Remove(dst); err != nil {
			return err
		}
	}
	if err := r.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := r.fs.Mkdir(dst, e.Mode.Perm()); err != nil {
		return err
	}
	return r.fs.Chmod(dst, e.Mode.Perm())
}

func (r *Reconciler) writeFile(dst string, e models.FileEntry, content io.Reader) error {
	if err := r.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp := dst + newSuffix
	f, err := r.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, e.Mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		r.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		r.fs.Remove(tmp)
		return err
	}
	if err := r.fs.Chmod(tmp, e.Mode.Perm()); err != nil {
		r.fs.Remove(tmp)
		return err
	}
	return r.fs.Rename(tmp, dst)
}

func (r *Reconciler) writeSymlink(e models.FileEntry) error {
	linker, ok := r.fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("filesystem does not support symlinks: %s", e.Path)
	}
	dst := r.real(e.Path)
	if err := r.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	if fi, err := r.lstat(e.Path); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 && r.readlink(e.Path) == e.Target {
			return nil
		}
		if err := r.fs.Remove(dst); err != nil {
			return err
		}
	}
	return linker.SymlinkIfPossible(e.Target, dst)
}

func (r *Reconciler) lstat(p string) (os.FileInfo, error) {
	if l, ok := r.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(r.real(p))
		return fi, err
	}
	return r.fs.Stat(r.real(p))
}

func (r *Reconciler) readlink(p string) string {
	lr, ok := r.fs.(afero.LinkReader)
	if !ok {
		return ""
	}
	target, err := lr.ReadlinkIfPossible(r.real(p))
	if err != nil {
		return ""
	}
	return target
}

// resolvesToDir follows a symlink chain inside the root and reports
// whether it ends at a directory
func (r *Reconciler) resolvesToDir(p string) bool {
	for i := 0; i < maxLinkDepth; i++ {
		fi, err := r.lstat(p)
		if err != nil {
			return false
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return fi.IsDir()
		}
		target := r.readlink(p)
		if target == "" {
			return false
		}
		if !path.IsAbs(target) {
			target = path.Join(path.Dir(p), target)
		}
		p = target
	}
	return false
}

func conflictError(name string, conflicts []Conflict) error {
	var b strings.Builder
	for _, c := range conflicts {
		if c.Owner != "" {
			fmt.Fprintf(&b, "\n\t%s is already provided by package %s", c.Path, c.Owner)
		} else {
			fmt.Fprintf(&b, "\n\t%s already exists", c.Path)
		}
	}
	return &models.OpkgError{
		Type:    models.ErrFileConflict,
		Package: name,
		Err:     fmt.Errorf("package %s wants to install files that conflict:%s", name, b.String()),
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
