package feed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/keenetic/opkg/internal/archive"
	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/signer"
	"github.com/keenetic/opkg/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Indexer writes Packages indexes for a directory of package files
type Indexer struct {
	signer signer.Signer
}

// NewIndexer creates an indexer; s may be nil for unsigned feeds
func NewIndexer(s signer.Signer) *Indexer {
	return &Indexer{signer: s}
}

// Scan recursively finds package files under dir
func Scan(ctx context.Context, dir string) ([]string, error) {
	var found []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() || !archive.HasPackageExt(path) {
			return nil
		}
		if !archive.IsPackageFile(path) {
			logrus.Warnf("Skipping %s: not a package archive", path)
			return nil
		}

		logrus.Debugf("Found package: %s", path)
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	sort.Strings(found)
	return found, nil
}

// MakeIndex writes Packages, Packages.gz and, with a signer, Packages.sig
// into dir describing every package file below it
func (ix *Indexer) MakeIndex(ctx context.Context, dir string) error {
	paths, err := Scan(ctx, dir)
	if err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Err: err}
	}
	if len(paths) == 0 {
		logrus.Warnf("No packages found in %s", dir)
	}

	var buf bytes.Buffer
	for _, path := range paths {
		stanza, err := indexEntry(dir, path)
		if err != nil {
			return err
		}
		if err := control.Write(&buf, stanza); err != nil {
			return err
		}
	}
	packagesData := buf.Bytes()

	fs := afero.NewOsFs()
	if err := utils.AtomicWriteFile(fs, filepath.Join(dir, "Packages"), packagesData, 0644); err != nil {
		return fmt.Errorf("failed to write Packages: %w", err)
	}

	// Compress Packages file
	packagesGz, err := utils.GzipCompress(packagesData)
	if err != nil {
		return fmt.Errorf("failed to compress Packages: %w", err)
	}
	if err := utils.AtomicWriteFile(fs, filepath.Join(dir, "Packages.gz"), packagesGz, 0644); err != nil {
		return fmt.Errorf("failed to write Packages.gz: %w", err)
	}

	if ix.signer != nil {
		sig, err := ix.signer.SignDetached(packagesData)
		if err != nil {
			return &models.OpkgError{Type: models.ErrSignature, Err: err}
		}
		if err := utils.AtomicWriteFile(fs, filepath.Join(dir, "Packages.sig"), sig, 0644); err != nil {
			return fmt.Errorf("failed to write Packages.sig: %w", err)
		}
		logrus.Info("Packages index signed")
	} else {
		logrus.Debug("No signer configured, index will be unsigned")
	}

	logrus.Infof("Indexed %d packages in %s", len(paths), dir)
	return nil
}

// indexEntry builds the index stanza of one package: its control fields
// followed by location and checksums
func indexEntry(dir, path string) (control.Stanza, error) {
	stanza, err := archive.ReadControl(path)
	if err != nil {
		return nil, err
	}

	checksums, err := utils.CalculateChecksums(path)
	if err != nil {
		return nil, &models.OpkgError{Type: models.ErrFileOp, Package: path, Err: fmt.Errorf("failed to calculate checksums: %w", err)}
	}

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return nil, err
	}

	stanza = stanza.Without("Filename", "Size", "MD5Sum", "SHA256sum")
	stanza = append(stanza,
		models.Field{Key: "Filename", Value: filepath.ToSlash(rel)},
		models.Field{Key: "Size", Value: strconv.FormatInt(checksums.Size, 10)},
		models.Field{Key: "MD5Sum", Value: checksums.MD5},
		models.Field{Key: "SHA256sum", Value: checksums.SHA256},
	)
	return stanza, nil
}
