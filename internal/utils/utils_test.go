package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func TestDecompressFormats(t *testing.T) {
	payload := []byte("Package: a\nVersion: 1.0\n")

	gz, err := GzipCompress(payload)
	require.NoError(t, err)

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	zw, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := zw.EncodeAll(payload, nil)
	require.NoError(t, zw.Close())

	for name, data := range map[string][]byte{
		"control.tar.gz":  gz,
		"control.tar.xz":  xzBuf.Bytes(),
		"control.tar.zst": zst,
		"control.tar":     payload,
		"Packages":        gz,
	} {
		out, err := Decompress(data, name)
		require.NoError(t, err, name)
		assert.Equal(t, payload, out, name)
	}
}

func TestChecksumVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.opk")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	sum, err := CalculateChecksums(path)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum.MD5)
	assert.Equal(t, int64(5), sum.Size)

	assert.NoError(t, sum.Verify("5D41402ABC4B2A76B9719D911017C592", "", 5))
	assert.NoError(t, sum.Verify("", "", 0))
	assert.Error(t, sum.Verify("00", "", 0))
	assert.Error(t, sum.Verify("", "00", 0))
	assert.Error(t, sum.Verify("", "", 6))
}

func TestAtomicWriteFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, AtomicWriteFile(fs, "/var/lib/opkg/status", []byte("one"), 0644))
	require.NoError(t, AtomicWriteFile(fs, "/var/lib/opkg/status", []byte("two"), 0644))

	data, err := afero.ReadFile(fs, "/var/lib/opkg/status")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	exists, err := afero.Exists(fs, "/var/lib/opkg/status.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, CopyFile(fs, "/var/lib/opkg/status", "/tmp/copy"))
	data, err = afero.ReadFile(fs, "/tmp/copy")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
