// Package feed builds package files and feed indexes.
package feed

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/utils"
)

// Entry is one payload record with its content
type Entry struct {
	models.FileEntry
	Content []byte
}

// Builder assembles a package file from in-memory content
type Builder struct {
	Control   control.Stanza
	Scripts   map[string]string
	Entries   []Entry
	Conffiles []string
}

// NewBuilder starts a package with the given control fields. Architecture
// defaults to "all".
func NewBuilder(name, version string, fields ...models.Field) *Builder {
	b := &Builder{
		Control: control.Stanza{
			{Key: "Package", Value: name},
			{Key: "Version", Value: version},
		},
		Scripts: make(map[string]string),
	}
	hasArch := false
	for _, f := range fields {
		if strings.EqualFold(f.Key, "Architecture") {
			hasArch = true
		}
	}
	if !hasArch {
		b.Control = append(b.Control, models.Field{Key: "Architecture", Value: "all"})
	}
	b.Control = append(b.Control, fields...)
	return b
}

// AddDir adds a directory entry and any missing parents
func (b *Builder) AddDir(p string, mode fs.FileMode) *Builder {
	p = path.Clean("/" + p)
	if p == "/" || b.has(p) {
		return b
	}
	b.AddDir(path.Dir(p), 0755)
	b.Entries = append(b.Entries, Entry{FileEntry: models.FileEntry{Path: p, Kind: models.FileDir, Mode: mode}})
	return b
}

// AddFile adds a regular file, creating parent directory entries
func (b *Builder) AddFile(p string, content []byte, mode fs.FileMode) *Builder {
	p = path.Clean("/" + p)
	b.AddDir(path.Dir(p), 0755)
	b.Entries = append(b.Entries, Entry{
		FileEntry: models.FileEntry{Path: p, Kind: models.FileRegular, Mode: mode, Size: int64(len(content))},
		Content:   content,
	})
	return b
}

// AddSymlink adds a symbolic link, creating parent directory entries
func (b *Builder) AddSymlink(p, target string) *Builder {
	p = path.Clean("/" + p)
	b.AddDir(path.Dir(p), 0755)
	b.Entries = append(b.Entries, Entry{FileEntry: models.FileEntry{Path: p, Kind: models.FileSymlink, Mode: 0777, Target: target}})
	return b
}

// AddConffile adds a regular file and lists it in control.tar's conffiles
func (b *Builder) AddConffile(p string, content []byte, mode fs.FileMode) *Builder {
	b.AddFile(p, content, mode)
	b.Conffiles = append(b.Conffiles, path.Clean("/"+p))
	return b
}

// AddScript attaches a maintainer script
func (b *Builder) AddScript(name, body string) *Builder {
	b.Scripts[name] = body
	return b
}

func (b *Builder) has(p string) bool {
	for _, e := range b.Entries {
		if e.Path == p {
			return true
		}
	}
	return false
}

// FileName returns the conventional file name name_version_arch.opk
func (b *Builder) FileName() string {
	return fmt.Sprintf("%s_%s_%s.opk", b.Control.Get("Package"), b.Control.Get("Version"), b.Control.Get("Architecture"))
}

// Write writes the package into dir and returns its path
func (b *Builder) Write(dir string) (string, error) {
	data, err := b.Bytes()
	if err != nil {
		return "", err
	}

	out := filepath.Join(dir, b.FileName())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write package: %w", err)
	}
	return out, nil
}

// Bytes renders the package as an ar archive
func (b *Builder) Bytes() ([]byte, error) {
	var controlBuf bytes.Buffer
	if err := control.Write(&controlBuf, b.Control); err != nil {
		return nil, err
	}

	controlTar := []tarEntry{{name: "./control", mode: 0644, data: controlBuf.Bytes()}}
	scripts := make([]string, 0, len(b.Scripts))
	for name := range b.Scripts {
		scripts = append(scripts, name)
	}
	sort.Strings(scripts)
	for _, name := range scripts {
		controlTar = append(controlTar, tarEntry{name: "./" + name, mode: 0755, data: []byte(b.Scripts[name])})
	}
	if len(b.Conffiles) > 0 {
		list := strings.Join(b.Conffiles, "\n") + "\n"
		controlTar = append(controlTar, tarEntry{name: "./conffiles", mode: 0644, data: []byte(list)})
	}

	var dataTar []tarEntry
	for _, e := range b.Entries {
		te := tarEntry{name: "." + e.Path, mode: int64(e.Mode.Perm())}
		switch e.Kind {
		case models.FileDir:
			te.typeflag = tar.TypeDir
			te.name += "/"
		case models.FileSymlink:
			te.typeflag = tar.TypeSymlink
			te.link = e.Target
		default:
			te.typeflag = tar.TypeReg
			te.data = e.Content
		}
		dataTar = append(dataTar, te)
	}

	controlGz, err := tarGz(controlTar)
	if err != nil {
		return nil, fmt.Errorf("failed to build control.tar.gz: %w", err)
	}
	dataGz, err := tarGz(dataTar)
	if err != nil {
		return nil, fmt.Errorf("failed to build data.tar.gz: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	writeArMember(&buf, "debian-binary", []byte("2.0\n"))
	writeArMember(&buf, "control.tar.gz", controlGz)
	writeArMember(&buf, "data.tar.gz", dataGz)
	return buf.Bytes(), nil
}

type tarEntry struct {
	name     string
	typeflag byte
	mode     int64
	link     string
	data     []byte
}

func tarGz(entries []tarEntry) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		header := &tar.Header{
			Name:     e.name,
			Typeflag: typeflag,
			Mode:     e.mode,
			Linkname: e.link,
			Size:     int64(len(e.data)),
			ModTime:  now,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, err
		}
		if len(e.data) > 0 {
			if _, err := tw.Write(e.data); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	return utils.GzipCompress(buf.Bytes())
}

func writeArMember(buf *bytes.Buffer, name string, data []byte) {
	fmt.Fprintf(buf, "%-16s%-12d%-6d%-6d%-8o%-10d`\n", name, time.Now().Unix(), 0, 0, 0100644, len(data))
	buf.Write(data)
	if len(data)%2 != 0 {
		buf.WriteByte('\n')
	}
}

// Build creates a package from a directory laid out as for opkg-build:
// CONTROL/control, optional CONTROL/<script>, and the payload tree.
func Build(srcDir, outDir string) (string, error) {
	controlData, err := os.ReadFile(filepath.Join(srcDir, "CONTROL", "control"))
	if err != nil {
		return "", &models.OpkgError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to read CONTROL/control: %w", err)}
	}
	stanza, err := control.ParseStanza(controlData)
	if err != nil {
		return "", &models.OpkgError{Type: models.ErrPackageParse, Err: err}
	}
	if _, err := control.ToPackage(stanza); err != nil {
		return "", err
	}

	b := &Builder{Control: stanza, Scripts: make(map[string]string)}
	for _, name := range []string{"preinst", "postinst", "prerm", "postrm"} {
		if body, err := os.ReadFile(filepath.Join(srcDir, "CONTROL", name)); err == nil {
			b.Scripts[name] = string(body)
		}
	}
	if list, err := os.ReadFile(filepath.Join(srcDir, "CONTROL", "conffiles")); err == nil {
		for _, p := range strings.Fields(string(list)) {
			b.Conffiles = append(b.Conffiles, path.Clean("/"+p))
		}
	}

	err = filepath.Walk(srcDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "CONTROL" || strings.HasPrefix(rel, "CONTROL/") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			b.AddSymlink(rel, target)
		case info.IsDir():
			b.AddDir(rel, info.Mode().Perm())
		default:
			content, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			b.AddFile(rel, content, info.Mode().Perm())
		}
		return nil
	})
	if err != nil {
		return "", &models.OpkgError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to walk %s: %w", srcDir, err)}
	}

	return b.Write(outDir)
}
