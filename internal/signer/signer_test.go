package signer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKey(t *testing.T, dir string) string {
	t.Helper()

	entity, err := openpgp.NewEntity("feed", "test", "feed@example.com", nil)
	require.NoError(t, err)

	path := filepath.Join(dir, "private.gpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, entity.SerializePrivate(f, nil))
	return path
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()

	s, err := NewGPGSigner(writeTestKey(t, dir), "")
	require.NoError(t, err)

	data := []byte("Package: a\nVersion: 1.0\n\n")
	sig, err := s.SignDetached(data)
	require.NoError(t, err)
	assert.Contains(t, string(sig), "BEGIN PGP SIGNATURE")

	pub, err := s.GetPublicKey()
	require.NoError(t, err)
	keyring := filepath.Join(dir, "trusted.asc")
	require.NoError(t, os.WriteFile(keyring, pub, 0644))

	v, err := NewKeyringVerifier(keyring)
	require.NoError(t, err)
	assert.NoError(t, v.VerifyDetached(data, sig))
	assert.Error(t, v.VerifyDetached([]byte("tampered"), sig))
}

func TestNewGPGSignerErrors(t *testing.T) {
	_, err := NewGPGSigner("", "")
	assert.Error(t, err)

	_, err = NewGPGSigner(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)

	_, err = NewKeyringVerifier(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewGPGSignerRejectsPublicKey(t *testing.T) {
	dir := t.TempDir()
	s, err := NewGPGSigner(writeTestKey(t, dir), "")
	require.NoError(t, err)

	pub, err := s.GetPublicKey()
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "public.asc")
	require.NoError(t, os.WriteFile(pubPath, pub, 0644))

	_, err = NewGPGSigner(pubPath, "")
	assert.ErrorContains(t, err, "no private key")
}
