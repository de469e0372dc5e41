// v2
// internal/sigcheck/sigcheck.go
// Package sigcheck validates secp256k1 signatures submitted by devices.
// Verification is pure and safe for concurrent use; malformed material is a
// rejection, never a panic.
package sigcheck

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidFormat reports a public key or signature that cannot be decoded.
var ErrInvalidFormat = errors.New("sigcheck: invalid signature format")

// Signature holds the two scalar components as hex strings, as devices
// transmit them.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
}

// ParseSignature accepts either the structured {r,s} object or a single
// 128-hex-char concatenated string.
func ParseSignature(raw json.RawMessage) (Signature, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Signature{}, fmt.Errorf("%w: empty signature", ErrInvalidFormat)
	}
	if trimmed[0] == '"' {
		var concat string
		if err := json.Unmarshal(raw, &concat); err != nil {
			return Signature{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if len(concat) != 128 {
			return Signature{}, fmt.Errorf("%w: concatenated signature must be 128 hex chars, got %d", ErrInvalidFormat, len(concat))
		}
		return Signature{R: concat[:64], S: concat[64:]}, nil
	}
	var sig Signature
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if sig.R == "" || sig.S == "" {
		return Signature{}, fmt.Errorf("%w: missing r or s", ErrInvalidFormat)
	}
	return sig, nil
}

// Verify hashes message with SHA-256 and checks the signature against the
// hex-encoded secp256k1 public key (compressed or uncompressed point).
func Verify(pubKeyHex string, message []byte, sig Signature) (bool, error) {
	digest := sha256.Sum256(message)
	return VerifyDigest(pubKeyHex, digest[:], sig)
}

// VerifyDigest is Verify for callers that already hold the 32-byte hash.
func VerifyDigest(pubKeyHex string, digest []byte, sig Signature) (bool, error) {
	if len(digest) != sha256.Size {
		return false, fmt.Errorf("%w: digest must be %d bytes", ErrInvalidFormat, sha256.Size)
	}
	pub, err := decodePublicKey(pubKeyHex)
	if err != nil {
		return false, err
	}
	rs, err := signatureBytes(sig)
	if err != nil {
		return false, err
	}
	return ethcrypto.VerifySignature(pub, digest, rs), nil
}

func decodePublicKey(pubKeyHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(pubKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex", ErrInvalidFormat)
	}
	switch len(raw) {
	case 33:
		if raw[0] != 0x02 && raw[0] != 0x03 {
			return nil, fmt.Errorf("%w: bad compressed point prefix", ErrInvalidFormat)
		}
	case 65:
		if raw[0] != 0x04 {
			return nil, fmt.Errorf("%w: bad uncompressed point prefix", ErrInvalidFormat)
		}
	default:
		return nil, fmt.Errorf("%w: public key must be 33 or 65 bytes, got %d", ErrInvalidFormat, len(raw))
	}
	// Reject points that are not on the curve up front.
	if _, err := ethcrypto.DecompressPubkey(raw); len(raw) == 33 && err != nil {
		return nil, fmt.Errorf("%w: not a curve point", ErrInvalidFormat)
	}
	if len(raw) == 65 {
		if _, err := ethcrypto.UnmarshalPubkey(raw); err != nil {
			return nil, fmt.Errorf("%w: not a curve point", ErrInvalidFormat)
		}
	}
	return raw, nil
}

// signatureBytes normalizes (r,s) into the 64-byte form the curve library
// verifies. High-s signatures are canonicalized to low-s; firmware signers
// emit both forms.
func signatureBytes(sig Signature) ([]byte, error) {
	r, ok := new(big.Int).SetString(strings.TrimPrefix(sig.R, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("%w: r is not hex", ErrInvalidFormat)
	}
	s, ok := new(big.Int).SetString(strings.TrimPrefix(sig.S, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("%w: s is not hex", ErrInvalidFormat)
	}
	n := ethcrypto.S256().Params().N
	if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidFormat)
	}
	half := new(big.Int).Rsh(new(big.Int).Set(n), 1)
	if s.Cmp(half) > 0 {
		s = new(big.Int).Sub(n, s)
	}
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}
