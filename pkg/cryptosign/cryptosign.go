// Package cryptosign implements the ECDSA P-256 / SHA-256 signing and
// verification used throughout the unlock protocol. Signatures are always
// encoded as a fixed 64-byte r‖s pair, never ASN.1 DER.
package cryptosign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
)

const (
	keyBytes      = 32 // P-256 field element width
	SignatureSize = 2 * keyBytes
	PublicKeySize = 1 + 2*keyBytes // SEC1 uncompressed: 0x04 ‖ X ‖ Y
)

// Signer signs SHA-256 digests with a P-256 private key, producing a fixed
// 64-byte signature.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner wraps an existing P-256 private key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("cryptosign: key is not on P-256")
	}
	return &Signer{key: key}, nil
}

// GenerateKey creates a fresh P-256 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// Sign hashes msg with SHA-256 and returns the fixed-size r‖s signature.
func (s *Signer) Sign(msg []byte) ([64]byte, error) {
	digest := sha256.Sum256(msg)
	return s.SignDigest(digest)
}

// SignDigest signs an already-computed SHA-256 digest.
func (s *Signer) SignDigest(digest [32]byte) ([64]byte, error) {
	r, ss, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return [64]byte{}, err
	}
	var sig [64]byte
	packInt(sig[:keyBytes], r)
	packInt(sig[keyBytes:], ss)
	return sig, nil
}

// PublicKey returns the public key in SEC1 uncompressed form.
func (s *Signer) PublicKey() [PublicKeySize]byte {
	return EncodePublicKey(&s.key.PublicKey)
}

func packInt(dst []byte, v *big.Int) {
	b := v.Bytes()
	copy(dst[len(dst)-len(b):], b)
}

// Verify checks a fixed-size r‖s signature over SHA-256(msg) under pub.
func Verify(pub *ecdsa.PublicKey, msg []byte, sig [64]byte) bool {
	digest := sha256.Sum256(msg)
	return VerifyDigest(pub, digest, sig)
}

// VerifyDigest checks sig over an already-computed digest.
func VerifyDigest(pub *ecdsa.PublicKey, digest [32]byte, sig [64]byte) bool {
	r := new(big.Int).SetBytes(sig[:keyBytes])
	s := new(big.Int).SetBytes(sig[keyBytes:])
	return ecdsa.Verify(pub, digest[:], r, s)
}

// EncodePublicKey renders pub as SEC1 uncompressed (0x04 ‖ X ‖ Y).
func EncodePublicKey(pub *ecdsa.PublicKey) [PublicKeySize]byte {
	var out [PublicKeySize]byte
	out[0] = 0x04
	x := pub.X.Bytes()
	y := pub.Y.Bytes()
	copy(out[1+keyBytes-len(x):1+keyBytes], x)
	copy(out[1+2*keyBytes-len(y):], y)
	return out
}

// DecodePublicKey parses a SEC1 uncompressed P-256 public key.
func DecodePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	if len(data) != PublicKeySize || data[0] != 0x04 {
		return nil, errors.New("cryptosign: not a SEC1 uncompressed P-256 key")
	}
	x := new(big.Int).SetBytes(data[1 : 1+keyBytes])
	y := new(big.Int).SetBytes(data[1+keyBytes:])
	curve := elliptic.P256()
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("cryptosign: point is not on P-256")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// LoadOrCreatePrivateKeyFile loads a PKCS#8 PEM-encoded P-256 private key
// from path, creating one with owner-only permissions if it doesn't exist.
func LoadOrCreatePrivateKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		key, genErr := GenerateKey()
		if genErr != nil {
			return nil, genErr
		}
		if writeErr := writePrivateKeyFile(path, key); writeErr != nil {
			return nil, writeErr
		}
		return key, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cryptosign: reading %s: %w", path, err)
	}
	return decodePrivateKeyPEM(data)
}

func writePrivateKeyFile(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("cryptosign: marshaling key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("cryptosign: creating %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, block)
}

func decodePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("cryptosign: no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptosign: parsing PKCS#8 key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cryptosign: expected *ecdsa.PrivateKey, got %T", parsed)
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("cryptosign: key is not on P-256")
	}
	return key, nil
}

// EncodePrivateKeyPEM renders key as a PKCS#8 PEM block, for tools that
// write a freshly generated key to disk (cmd/provision).
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM renders the PKIX-encoded public key as PEM, for the
// /cert endpoint.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// DecodePublicKeyPEM parses a PKIX-encoded PEM public key, the counterpart
// to EncodePublicKeyPEM — a beacon reads the server's /cert response in
// this form to learn the key it verifies UNLOCK_REQUEST signatures under.
func DecodePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("cryptosign: no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptosign: parsing PKIX key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptosign: expected *ecdsa.PublicKey, got %T", parsed)
	}
	if pub.Curve != elliptic.P256() {
		return nil, errors.New("cryptosign: key is not on P-256")
	}
	return pub, nil
}
