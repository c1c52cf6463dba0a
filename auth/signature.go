package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureHeader carries the base64 detached signature over the request body.
const SignatureHeader = "X-Reservation-Signature"

const (
	addressLength = 44
	addressPrefix = "terra"
)

// IsValidAddress reports whether the string looks like a bech32 wallet
// address for the target chain. Structural check only; checksum validation
// is left to the chain.
func IsValidAddress(address string) bool {
	return len(address) == addressLength && strings.HasPrefix(address, addressPrefix)
}

// Verifier checks detached signatures against a set of trusted public keys.
// DebugIgnore disables verification entirely for local development.
type Verifier struct {
	keys        []*ecdsa.PublicKey
	DebugIgnore bool
}

// NewVerifier parses the given hex-encoded compressed or uncompressed
// secp256k1 public keys.
func NewVerifier(hexKeys []string, debugIgnore bool) (*Verifier, error) {
	keys := make([]*ecdsa.PublicKey, 0, len(hexKeys))
	for _, raw := range hexKeys {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "0x"))
		if raw == "" {
			continue
		}
		blob, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("auth: decode public key: %w", err)
		}
		var key *ecdsa.PublicKey
		switch len(blob) {
		case 33:
			key, err = ethcrypto.DecompressPubkey(blob)
		default:
			key, err = ethcrypto.UnmarshalPubkey(blob)
		}
		if err != nil {
			return nil, fmt.Errorf("auth: parse public key: %w", err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 && !debugIgnore {
		return nil, fmt.Errorf("auth: no public keys configured")
	}
	return &Verifier{keys: keys, DebugIgnore: debugIgnore}, nil
}

// Verify checks the base64 signature from the request header against the raw
// body. The signature is a 65-byte recoverable secp256k1 signature over the
// keccak256 digest of the body.
func (v *Verifier) Verify(body []byte, signatureB64 string) error {
	if v.DebugIgnore {
		return nil
	}
	if strings.TrimSpace(signatureB64) == "" {
		return fmt.Errorf("auth: missing signature")
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("auth: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("auth: signature must be 65 bytes, got %d", len(sig))
	}
	digest := ethcrypto.Keccak256(body)
	recovered, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("auth: recover public key: %w", err)
	}
	recoveredBytes := ethcrypto.FromECDSAPub(recovered)
	for _, key := range v.keys {
		if string(ethcrypto.FromECDSAPub(key)) == string(recoveredBytes) {
			return nil
		}
	}
	return fmt.Errorf("auth: signature does not match any trusted key")
}

// Signer produces detached signatures for outbound payloads and for test
// tooling. It holds a single secp256k1 private key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSignerFromHex parses a hex-encoded secp256k1 private key.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	return &Signer{key: key}, nil
}

// NewSigner generates a fresh key, for tests and local tooling.
func NewSigner() (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("auth: generate key: %w", err)
	}
	return &Signer{key: key}, nil
}

// PublicKeyHex returns the uncompressed public key in hex, suitable for the
// verifier configuration.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSAPub(&s.key.PublicKey))
}

// Sign produces the base64 recoverable signature over the payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	digest := ethcrypto.Keccak256(payload)
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignAllocation signs the canonical wallet-allocation payload used when
// provisioning stage allocations out of band: "<wallet>/<attributes JSON>".
func (s *Signer) SignAllocation(walletAddress string, attributes interface{}) (string, error) {
	blob, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("auth: marshal attributes: %w", err)
	}
	return s.Sign([]byte(walletAddress + "/" + string(blob)))
}
