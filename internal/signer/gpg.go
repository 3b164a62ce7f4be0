package signer

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// GPGSigner signs feed indexes with an OpenPGP private key
type GPGSigner struct {
	entity *openpgp.Entity
	config *packet.Config
}

// NewGPGSigner loads the first key of an armored or binary key file and
// unlocks it with passphrase when the key is encrypted
func NewGPGSigner(keyPath, passphrase string) (*GPGSigner, error) {
	if keyPath == "" {
		return nil, errors.New("key path is empty")
	}

	keys, err := readKeyRing(keyPath)
	if err != nil {
		return nil, err
	}
	entity := keys[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("%s holds no private key", keyPath)
	}

	if err := unlock(entity, []byte(passphrase)); err != nil {
		return nil, err
	}

	return &GPGSigner{
		entity: entity,
		config: &packet.Config{DefaultHash: crypto.SHA512},
	}, nil
}

func unlock(entity *openpgp.Entity, passphrase []byte) error {
	if len(passphrase) == 0 {
		return nil
	}
	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}
	for i, sub := range entity.Subkeys {
		if sub.PrivateKey == nil || !sub.PrivateKey.Encrypted {
			continue
		}
		if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
			return fmt.Errorf("failed to decrypt subkey %d: %w", i, err)
		}
	}
	return nil
}

// SignDetached returns an armored detached signature of data, as written to Packages.sig
func (s *GPGSigner) SignDetached(data []byte) ([]byte, error) {
	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, s.entity, bytes.NewReader(data), s.config); err != nil {
		return nil, fmt.Errorf("failed to sign index: %w", err)
	}
	return sig.Bytes(), nil
}

// GetPublicKey exports the signing key in armored form, suitable for a feed keyring
func (s *GPGSigner) GetPublicKey() ([]byte, error) {
	var out bytes.Buffer
	w, err := armor.Encode(&out, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := s.entity.Serialize(w); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// readKeyRing parses a key file, armored or binary
func readKeyRing(path string) (openpgp.EntityList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
	if err != nil {
		if keys, err = openpgp.ReadKeyRing(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys found in %s", path)
	}
	return keys, nil
}
