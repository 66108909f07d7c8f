package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// EnvelopeVersion prefixes every sealed secret. Envelopes with any other
// prefix are rejected; there is no fallback decoding.
const EnvelopeVersion = "v1"

const (
	nonceSize = 24
	keySize   = 32

	// scrypt parameters for deriving the sealing key from a passphrase.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// keySalt is the fixed domain salt for the v1 key derivation.
var keySalt = []byte("chorus/credential/v1")

var (
	// ErrUnsupportedVersion is returned by Open for envelopes that do not
	// carry the v1 prefix.
	ErrUnsupportedVersion = errors.New("credential: unsupported envelope version")

	// ErrMalformedEnvelope is returned by Open when an envelope cannot be
	// decoded or authenticated.
	ErrMalformedEnvelope = errors.New("credential: malformed envelope")
)

// Sealer seals and opens secrets with a key derived from a passphrase.
//
// A sealed secret has the form "v1." followed by the unpadded base64url
// encoding of a 24-byte nonce and the NaCl secretbox ciphertext.
type Sealer struct {
	key [keySize]byte
}

// NewSealer derives the sealing key from passphrase with scrypt.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("credential: sealing passphrase is empty")
	}
	derived, err := scrypt.Key([]byte(passphrase), keySalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}
	s := &Sealer{}
	copy(s.key[:], derived)
	return s, nil
}

// Seal encrypts secret into a v1 envelope. Every call uses a fresh nonce.
func (s *Sealer) Seal(secret string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(secret), &nonce, &s.key)
	return EnvelopeVersion + "." + base64.RawURLEncoding.EncodeToString(box), nil
}

// Open decrypts a v1 envelope produced by Seal.
func (s *Sealer) Open(envelope string) (string, error) {
	version, payload, ok := strings.Cut(envelope, ".")
	if !ok || version != EnvelopeVersion {
		return "", ErrUnsupportedVersion
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformedEnvelope
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrMalformedEnvelope
	}
	return string(plain), nil
}
