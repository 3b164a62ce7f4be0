package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Checksum contains the digests a feed index records for a package file
type Checksum struct {
	MD5    string
	SHA256 string
	Size   int64
}

// CalculateChecksums calculates all checksums for a file in a single pass
func CalculateChecksums(path string) (*Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return CalculateReaderChecksums(f)
}

// CalculateReaderChecksums hashes everything read from r
func CalculateReaderChecksums(r io.Reader) (*Checksum, error) {
	md5Hash := md5.New()
	sha256Hash := sha256.New()

	// Use MultiWriter to calculate all hashes at once
	n, err := io.Copy(io.MultiWriter(md5Hash, sha256Hash), r)
	if err != nil {
		return nil, err
	}

	return &Checksum{
		MD5:    hex.EncodeToString(md5Hash.Sum(nil)),
		SHA256: hex.EncodeToString(sha256Hash.Sum(nil)),
		Size:   n,
	}, nil
}

// Verify compares the checksum against expected values. Empty expectations
// are skipped.
func (c *Checksum) Verify(md5sum, sha256sum string, size int64) error {
	if size > 0 && c.Size != size {
		return fmt.Errorf("size mismatch: expected %d, got %d", size, c.Size)
	}
	if md5sum != "" && !strings.EqualFold(md5sum, c.MD5) {
		return fmt.Errorf("MD5 mismatch: expected %s, got %s", md5sum, c.MD5)
	}
	if sha256sum != "" && !strings.EqualFold(sha256sum, c.SHA256) {
		return fmt.Errorf("SHA256 mismatch: expected %s, got %s", sha256sum, c.SHA256)
	}
	return nil
}
