package signer

// Signer signs feed metadata
type Signer interface {
	// SignDetached creates an armored detached signature (Packages.sig)
	SignDetached(data []byte) ([]byte, error)

	// GetPublicKey returns the public key
	GetPublicKey() ([]byte, error)
}

// Verifier checks feed metadata signatures
type Verifier interface {
	// VerifyDetached checks an armored or binary detached signature
	VerifyDetached(data, signature []byte) error
}
