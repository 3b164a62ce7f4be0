package archive

import (
	"bytes"
	"os"
	"path/filepath"
)

// Magic bytes for package detection
var (
	// ar container ("!<arch>\n"), followed by debian-binary in packages
	arMagic  = []byte("!<arch>\n")
	debMagic = []byte("!<arch>\ndebian")

	// Gzip magic bytes (legacy tar.gz packages)
	gzipMagic = []byte{0x1F, 0x8B}
)

// Package file extensions accepted on the command line and in feeds
var packageExts = map[string]bool{
	".opk": true,
	".ipk": true,
	".deb": true,
}

// IsPackageFile reports whether path names an existing package archive,
// judged by magic bytes and file extension.
func IsPackageFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	// Read the first bytes for magic byte detection
	header := make([]byte, 512)
	n, _ := f.Read(header)
	header = header[:n]

	if bytes.HasPrefix(header, debMagic) {
		return true
	}

	ext := filepath.Ext(path)
	if bytes.HasPrefix(header, gzipMagic) && packageExts[ext] {
		return true
	}
	return bytes.HasPrefix(header, arMagic) && packageExts[ext]
}

// HasPackageExt reports whether the name looks like a package file
func HasPackageExt(name string) bool {
	return packageExts[filepath.Ext(name)]
}
