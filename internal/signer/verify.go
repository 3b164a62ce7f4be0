package signer

import (
	"bytes"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// KeyringVerifier checks signatures against a trusted key ring
type KeyringVerifier struct {
	keyring openpgp.EntityList
}

// NewKeyringVerifier loads the trusted keys from path
func NewKeyringVerifier(path string) (*KeyringVerifier, error) {
	keyring, err := readKeyRing(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keyring %s: %w", path, err)
	}
	return &KeyringVerifier{keyring: keyring}, nil
}

// VerifyDetached checks signature over data
func (v *KeyringVerifier) VerifyDetached(data, signature []byte) error {
	var err error
	if bytes.HasPrefix(bytes.TrimSpace(signature), []byte("-----BEGIN")) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
