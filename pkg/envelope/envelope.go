// Package envelope implements the signed message envelope used to
// authorize every write against the CRDT datastore and every control-plane
// mutation: a payload is signed with a secp256k1 key, and the signer's
// address is recovered from the signature rather than carried alongside it.
package envelope

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cuemby/fabric/pkg/types"
)

// Sign produces a 65-byte [R || S || V] recoverable signature over the
// Keccak256 digest of payload.
func Sign(key *ecdsa.PrivateKey, payload []byte) ([65]byte, error) {
	var sig [65]byte
	digest := crypto.Keccak256(payload)
	raw, err := crypto.Sign(digest, key)
	if err != nil {
		return sig, fmt.Errorf("envelope: sign: %w", err)
	}
	copy(sig[:], raw)
	return sig, nil
}

// Recover returns the address that produced sig over payload.
func Recover(payload []byte, sig [65]byte) (types.Address, error) {
	var addr types.Address
	digest := crypto.Keccak256(payload)
	pub, err := crypto.SigToPub(digest, sig[:])
	if err != nil {
		return addr, fmt.Errorf("envelope: recover: %w", err)
	}
	return AddressFromPublicKey(pub), nil
}

// AddressFromPublicKey derives the 20-byte address from an uncompressed
// public key: the last 20 bytes of Keccak256 of the 64-byte X||Y encoding
// (the leading 0x04 prefix byte is stripped first).
func AddressFromPublicKey(pub *ecdsa.PublicKey) types.Address {
	var addr types.Address
	raw := crypto.FromECDSAPub(pub) // 0x04 || X || Y, 65 bytes
	digest := crypto.Keccak256(raw[1:])
	copy(addr[:], digest[len(digest)-20:])
	return addr
}

// Canonicalize returns the canonical byte encoding of v that both the
// signer and every verifier must agree on. encoding/json already emits
// object keys in struct declaration order and sorts map keys
// lexicographically, which is sufficient determinism for our purposes.
func Canonicalize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: canonicalize: %w", err)
	}
	return b, nil
}

// Capability is re-exported for callers that only need envelope semantics.
type Capability = types.Capability

const (
	CapabilityNone     = types.CapabilityNone
	CapabilityReadOnly = types.CapabilityReadOnly
	CapabilityOperator = types.CapabilityOperator
	CapabilityOwner    = types.CapabilityOwner
)

// Header is a parsed Authorization header of the form:
//
//	Signature <sig_hex>.<rec_id>.<message_hex>
type Header struct {
	Signature [64]byte
	RecoveryID byte
	Message    []byte
}

const schemePrefix = "Signature "

// ParseHeader parses the Authorization header value.
func ParseHeader(value string) (Header, error) {
	var h Header
	if !strings.HasPrefix(value, schemePrefix) {
		return h, fmt.Errorf("envelope: missing %q scheme", strings.TrimSpace(schemePrefix))
	}
	rest := strings.TrimPrefix(value, schemePrefix)
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) != 3 {
		return h, fmt.Errorf("envelope: malformed authorization header")
	}
	sigBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(sigBytes) != 64 {
		return h, fmt.Errorf("envelope: malformed signature component")
	}
	copy(h.Signature[:], sigBytes)
	recID, err := strconv.Atoi(parts[1])
	if err != nil || recID < 0 || recID > 3 {
		return h, fmt.Errorf("envelope: malformed recovery id")
	}
	h.RecoveryID = byte(recID)
	msg, err := hex.DecodeString(parts[2])
	if err != nil {
		return h, fmt.Errorf("envelope: malformed message component")
	}
	h.Message = msg
	return h, nil
}

// Encode renders the header value for the given 65-byte signature and
// message.
func Encode(sig [65]byte, message []byte) string {
	return fmt.Sprintf("%s%s.%d.%s", schemePrefix, hex.EncodeToString(sig[:64]), sig[64], hex.EncodeToString(message))
}

// Verify parses, recovers, and returns the signer address and the decoded
// message from an Authorization header value.
func Verify(value string) (types.Address, []byte, error) {
	h, err := ParseHeader(value)
	if err != nil {
		return types.Address{}, nil, err
	}
	var sig [65]byte
	copy(sig[:64], h.Signature[:])
	sig[64] = h.RecoveryID
	addr, err := Recover(h.Message, sig)
	if err != nil {
		return types.Address{}, nil, err
	}
	return addr, h.Message, nil
}

// IsLoopback reports whether remoteAddr (a host:port or bare host) refers
// to the local machine; control-plane servers bypass signature checks for
// loopback callers, matching spec.md's trusted-local-admin carve-out.
func IsLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}
