// Package archive reads .opk/.ipk package files: an ar (or gzip tar) outer
// container holding debian-binary, control.tar.* and data.tar.*.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/utils"
	"github.com/sirupsen/logrus"
)

// Maintainer scripts recognised in control.tar
var scriptNames = []string{"preinst", "postinst", "prerm", "postrm"}

// Package is an opened package file
type Package struct {
	Path    string
	Control control.Stanza
	Scripts map[string][]byte

	conffiles []string

	manifest []models.FileEntry
	data     []byte
}

// Open reads a package file, its control data and its payload manifest
func Open(path string) (*Package, error) {
	members, err := readMembers(path)
	if err != nil {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: path, Err: err}
	}

	pkg := &Package{Path: path, Scripts: make(map[string][]byte)}
	if err := pkg.loadControl(members); err != nil {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: path, Err: err}
	}
	if err := pkg.loadData(members); err != nil {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: path, Err: err}
	}

	return pkg, nil
}

// ReadControl extracts only the control stanza of a package file
func ReadControl(path string) (control.Stanza, error) {
	members, err := readMembers(path)
	if err != nil {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: path, Err: err}
	}

	pkg := &Package{Path: path, Scripts: make(map[string][]byte)}
	if err := pkg.loadControl(members); err != nil {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: path, Err: err}
	}
	return pkg.Control, nil
}

// Info returns the package described by the control stanza
func (p *Package) Info() (*models.PackageVersion, error) {
	return control.ToPackage(p.Control)
}

// Conffiles returns the paths listed in control.tar's conffiles
func (p *Package) Conffiles() []string {
	return p.conffiles
}

// Manifest returns the data entries in archive order
func (p *Package) Manifest() []models.FileEntry {
	return p.manifest
}

// Walk calls fn for each data entry in archive order. For regular files r
// yields the content; for other kinds it is empty.
func (p *Package) Walk(fn func(entry models.FileEntry, r io.Reader) error) error {
	tr := tar.NewReader(bytes.NewReader(p.data))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		entry, ok := toEntry(header)
		if !ok {
			continue
		}
		if err := fn(entry, tr); err != nil {
			return err
		}
	}
}

func (p *Package) loadControl(members map[string][]byte) error {
	name, data := findMember(members, "control.tar")
	if data == nil {
		return fmt.Errorf("control.tar not found in package")
	}

	raw, err := utils.Decompress(data, name)
	if err != nil {
		return fmt.Errorf("failed to decompress %s: %w", name, err)
	}

	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		base := path.Base(header.Name)
		switch {
		case base == "control":
			content, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			if p.Control, err = control.ParseStanza(content); err != nil {
				return fmt.Errorf("failed to parse control: %w", err)
			}
		case base == "conffiles":
			content, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			for _, f := range strings.Fields(string(content)) {
				p.conffiles = append(p.conffiles, path.Clean("/"+f))
			}
		case isScript(base):
			content, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			p.Scripts[base] = content
		}
	}

	if p.Control == nil {
		return fmt.Errorf("control file not found in control.tar")
	}
	return nil
}

func (p *Package) loadData(members map[string][]byte) error {
	name, data := findMember(members, "data.tar")
	if data == nil {
		return fmt.Errorf("data.tar not found in package")
	}

	raw, err := utils.Decompress(data, name)
	if err != nil {
		return fmt.Errorf("failed to decompress %s: %w", name, err)
	}
	p.data = raw

	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("corrupt %s: %w", name, err)
		}

		entry, ok := toEntry(header)
		if !ok {
			continue
		}
		p.manifest = append(p.manifest, entry)
	}
	return nil
}

// toEntry converts a tar header into a manifest entry. The archive root and
// unsupported entry types are skipped.
func toEntry(header *tar.Header) (models.FileEntry, bool) {
	name := strings.TrimPrefix(header.Name, ".")
	name = path.Clean("/" + name)
	if name == "/" {
		return models.FileEntry{}, false
	}

	entry := models.FileEntry{
		Path: name,
		Mode: fs.FileMode(header.Mode).Perm(),
	}

	switch header.Typeflag {
	case tar.TypeDir:
		entry.Kind = models.FileDir
	case tar.TypeSymlink:
		entry.Kind = models.FileSymlink
		entry.Target = header.Linkname
	case tar.TypeReg:
		entry.Kind = models.FileRegular
		entry.Size = header.Size
	default:
		logrus.Warnf("Skipping unsupported entry %s (type %c)", header.Name, header.Typeflag)
		return models.FileEntry{}, false
	}

	return entry, true
}

func isScript(name string) bool {
	for _, s := range scriptNames {
		if s == name {
			return true
		}
	}
	return false
}

func findMember(members map[string][]byte, prefix string) (string, []byte) {
	for name, data := range members {
		if strings.HasPrefix(name, prefix) {
			return name, data
		}
	}
	return "", nil
}

// readMembers returns the top-level members of a package file, for either
// an ar container or a gzip-compressed tar container.
func readMembers(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic, err := r.Peek(len(arMagic))
	if err != nil {
		return nil, fmt.Errorf("failed to read package header: %w", err)
	}

	if bytes.Equal(magic, arMagic) {
		return readArMembers(r)
	}
	if bytes.HasPrefix(magic, gzipMagic) {
		return readTarMembers(r)
	}
	return nil, fmt.Errorf("unrecognised package format")
}

// readArMembers parses the ar archive format used by .opk/.ipk/.deb
func readArMembers(r io.Reader) (map[string][]byte, error) {
	// Skip the first 8 bytes ("!<arch>\n")
	if _, err := io.ReadFull(r, make([]byte, len(arMagic))); err != nil {
		return nil, err
	}

	members := make(map[string][]byte)
	for {
		// Read ar header (60 bytes)
		arHeader := make([]byte, 60)
		if _, err := io.ReadFull(r, arHeader); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read ar header: %w", err)
		}

		// Parse filename (first 16 bytes, space-padded)
		// Also trim trailing slash that ar format may include
		name := strings.TrimRight(strings.TrimSpace(string(arHeader[0:16])), "/")

		// Parse file size (bytes 48-58, decimal)
		size, err := strconv.ParseInt(strings.TrimSpace(string(arHeader[48:58])), 10, 64)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("invalid ar member size for %s", name)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("truncated ar member %s: %w", name, err)
		}

		// BSD ar stores long names at the start of the member data
		if strings.HasPrefix(name, "#1/") {
			n, err := strconv.Atoi(name[3:])
			if err != nil || n > len(data) {
				return nil, fmt.Errorf("invalid BSD ar name %s", name)
			}
			name = strings.TrimRight(string(data[:n]), "\x00")
			data = data[n:]
		}
		members[name] = data

		// Align to 2-byte boundary
		if size%2 != 0 {
			if _, err := io.ReadFull(r, make([]byte, 1)); err != nil && err != io.EOF {
				return nil, err
			}
		}
	}

	return members, nil
}

// readTarMembers parses the legacy tar.gz outer container
func readTarMembers(r io.Reader) (map[string][]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw, err = utils.Decompress(raw, ".gz")
	if err != nil {
		return nil, err
	}

	members := make(map[string][]byte)
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		members[path.Base(header.Name)] = data
	}
	return members, nil
}
