package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/utils"
	"github.com/sirupsen/logrus"
)

// Source locates and opens the archive for a catalog package
type Source struct {
	cacheDir string
	feeds    map[string]string
}

// NewSource creates a source resolving feed packages against file: feeds
// and the download cache
func NewSource(cacheDir string, sources []models.Source) *Source {
	feeds := make(map[string]string, len(sources))
	for _, src := range sources {
		feeds[src.Name] = src.URL
	}
	return &Source{cacheDir: cacheDir, feeds: feeds}
}

// Locate returns the local path of the package file
func (s *Source) Locate(pkg *models.PackageVersion) (string, error) {
	if pkg.LocalPath != "" {
		return pkg.LocalPath, nil
	}
	if pkg.Filename == "" {
		return "", fmt.Errorf("package %s has no Filename", pkg.ID())
	}

	var candidates []string
	if url, ok := s.feeds[pkg.Source]; ok {
		if dir, ok := FilePath(url); ok {
			candidates = append(candidates, filepath.Join(dir, pkg.Filename))
		}
	}
	if s.cacheDir != "" {
		candidates = append(candidates, filepath.Join(s.cacheDir, filepath.Base(pkg.Filename)))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("package file %s is not available locally", pkg.Filename)
}

// Open locates the package file, verifies it against the feed checksums
// and opens it
func (s *Source) Open(pkg *models.PackageVersion) (*Package, error) {
	path, err := s.Locate(pkg)
	if err != nil {
		return nil, &models.OpkgError{Type: models.ErrFileOp, Package: pkg.Name, Err: err}
	}

	if pkg.LocalPath == "" && (pkg.MD5Sum != "" || pkg.SHA256Sum != "") {
		sum, err := utils.CalculateChecksums(path)
		if err != nil {
			return nil, &models.OpkgError{Type: models.ErrFileOp, Package: pkg.Name, Err: err}
		}
		if err := sum.Verify(pkg.MD5Sum, pkg.SHA256Sum, pkg.Size); err != nil {
			return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: pkg.Name, Err: fmt.Errorf("%s: %w", path, err)}
		}
		logrus.Debugf("Verified checksums of %s", path)
	}

	return Open(path)
}

// FilePath returns the directory of a file: URL
func FilePath(url string) (string, bool) {
	if !strings.HasPrefix(url, "file:") {
		return "", false
	}
	p := strings.TrimPrefix(url, "file:")
	if strings.HasPrefix(p, "//") {
		p = strings.TrimPrefix(p, "//")
	}
	return p, true
}
