// Package identity provides keypair generation, message signing and
// signature verification for spell authorization.
//
// All request authorization reduces to: recompute a canonical message
// string, then Verify it against the caller's stored public key. Signatures
// are 64-byte r||s over the SHA-256 digest of the message, P-256 curve,
// hex encoded. Public keys are hex of the uncompressed point.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

var hkdfSalt = []byte("fount-identity")

// Keypair is a hex-encoded P-256 key pair.
type Keypair struct {
	PublicKey  string `json:"pubKey"`
	PrivateKey string `json:"-"`
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (Keypair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate key: %w", err)
	}
	return encodeKeypair(priv), nil
}

// DeriveKeypair deterministically derives the service's own keypair from a
// master seed via HKDF-SHA256, so restarts keep the same identity.
func DeriveKeypair(seed []byte, keyVersion string) (Keypair, error) {
	if len(seed) == 0 {
		return Keypair{}, fmt.Errorf("master seed is required")
	}
	keyVersion = strings.TrimSpace(keyVersion)
	if keyVersion == "" {
		return Keypair{}, fmt.Errorf("key version is required")
	}

	info := []byte("fount-signer-" + keyVersion)
	reader := hkdf.New(sha256.New, seed, hkdfSalt, info)

	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return Keypair{}, fmt.Errorf("derive key: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N

	// Map OKM into [1, n-1] to avoid invalid private keys.
	d := new(big.Int).SetBytes(okm)
	nMinusOne := new(big.Int).Sub(n, big.NewInt(1))
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	if priv.PublicKey.X == nil || priv.PublicKey.Y == nil || !curve.IsOnCurve(priv.PublicKey.X, priv.PublicKey.Y) {
		return Keypair{}, fmt.Errorf("derived key is not on curve")
	}

	return encodeKeypair(priv), nil
}

// Sign produces a hex signature of message using the hex private key.
func Sign(message, privateKeyHex string) (string, error) {
	priv, err := decodePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(message))
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	sig := make([]byte, 64)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex signature of message against a hex public key. Any
// decode failure yields false; there is no partial trust.
func Verify(signatureHex, message, publicKeyHex string) bool {
	pub, err := decodePublicKey(publicKeyHex)
	if err != nil {
		return false
	}

	sig, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil || len(sig) != 64 {
		return false
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	digest := sha256.Sum256([]byte(message))
	return ecdsa.Verify(pub, digest[:], r, s)
}

// GenerateID returns a v4 UUID string.
func GenerateID() string {
	return uuid.NewString()
}

func encodeKeypair(priv *ecdsa.PrivateKey) Keypair {
	pub := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)

	d := make([]byte, 32)
	dBytes := priv.D.Bytes()
	copy(d[32-len(dBytes):], dBytes)

	return Keypair{
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(d),
	}
}

func decodePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("private key out of range")
	}

	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return priv, nil
}

func decodePublicKey(publicKeyHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}

	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return nil, fmt.Errorf("invalid public key point")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
