package catalog

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/keenetic/opkg/internal/archive"
	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/signer"
	"github.com/keenetic/opkg/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// LoadLists reads the downloaded feed lists of every source into the
// catalog. A missing list is reported and skipped.
func (c *Catalog) LoadLists(fs afero.Fs, listsDir string, sources []models.Source) error {
	for _, src := range sources {
		listPath := filepath.Join(listsDir, src.Name)
		data, err := afero.ReadFile(fs, listPath)
		if err != nil {
			logrus.Warnf("Feed %s has no package list, run update: %v", src.Name, err)
			continue
		}

		data, err = utils.Decompress(data, "")
		if err != nil {
			return &models.OpkgError{Type: models.ErrPackageParse, Err: fmt.Errorf("failed to read %s: %w", listPath, err)}
		}

		stanzas, err := control.ReadStanzas(bytes.NewReader(data))
		if err != nil {
			return &models.OpkgError{Type: models.ErrPackageParse, Err: fmt.Errorf("failed to parse %s: %w", listPath, err)}
		}

		n := c.AddStanzas(src.Name, stanzas)
		logrus.Debugf("Loaded %d packages from %s", n, src.Name)
	}
	return nil
}

// Update refreshes the package list of each source into listsDir. Only
// file: feeds are supported; with a verifier the list must carry a valid
// Packages.sig.
func Update(fs afero.Fs, listsDir string, sources []models.Source, verifier signer.Verifier) error {
	var failed []string

	for _, src := range sources {
		if err := updateSource(fs, listsDir, src, verifier); err != nil {
			logrus.Errorf("Failed to update %s: %v", src.Name, err)
			failed = append(failed, src.Name)
			continue
		}
		logrus.Infof("Updated list of available packages in %s", filepath.Join(listsDir, src.Name))
	}

	if len(failed) > 0 {
		return &models.OpkgError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to update %d of %d feeds: %v", len(failed), len(sources), failed)}
	}
	return nil
}

func updateSource(fs afero.Fs, listsDir string, src models.Source, verifier signer.Verifier) error {
	dir, ok := archive.FilePath(src.URL)
	if !ok {
		return fmt.Errorf("no fetcher available for %s", src.URL)
	}

	name := "Packages"
	if src.Gzip {
		name = "Packages.gz"
	}

	raw, err := afero.ReadFile(fs, filepath.Join(dir, name))
	if err != nil {
		return err
	}
	data, err := utils.Decompress(raw, name)
	if err != nil {
		return fmt.Errorf("failed to decompress %s: %w", name, err)
	}

	if verifier != nil {
		sig, err := afero.ReadFile(fs, filepath.Join(dir, "Packages.sig"))
		if err != nil {
			return &models.OpkgError{Type: models.ErrSignature, Err: fmt.Errorf("missing Packages.sig: %w", err)}
		}
		if err := verifier.VerifyDetached(data, sig); err != nil {
			return &models.OpkgError{Type: models.ErrSignature, Err: err}
		}
		if err := utils.AtomicWriteFile(fs, filepath.Join(listsDir, src.Name+".sig"), sig, 0644); err != nil {
			return err
		}
	}

	return utils.AtomicWriteFile(fs, filepath.Join(listsDir, src.Name), data, 0644)
}
