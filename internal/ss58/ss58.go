// Package ss58 implements the SS58 address codec: a network-prefix-aware,
// blake2b-checksummed, base58 encoding of a raw public key, per spec.md's
// GLOSSARY entry and Testable Property 5 (decode-then-encode round trip).
// Encode and Decode are implemented directly against confirmed primitives
// (mr-tron/base58, golang.org/x/crypto/blake2b) so both directions of the
// round trip are available, not just the encode-only happy path.
package ss58

import (
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/arcsign/chainpilot/internal/chainerrors"
)

const checksumPrefix = "SS58PRE"

// simpleAccountChecksumLen is the checksum length used for the "simple
// account" address format (1-byte or 2-byte network prefix, 32-byte public
// key), which covers every chain this engine targets.
const simpleAccountChecksumLen = 2

// Decode decodes an SS58 address into its raw public key bytes and the
// network prefix it was encoded with, verifying the checksum.
func Decode(address string) (pubkey []byte, prefix uint16, err error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, 0, invalidAddress(fmt.Sprintf("base58 decode failed: %v", err))
	}

	var prefixLen int
	var networkPrefix uint16
	switch {
	case len(raw) == 0:
		return nil, 0, invalidAddress("empty address")
	case raw[0] < 64:
		prefixLen = 1
		networkPrefix = uint16(raw[0])
	case raw[0] < 128:
		if len(raw) < 2 {
			return nil, 0, invalidAddress("truncated two-byte prefix")
		}
		prefixLen = 2
		identBits2to7 := uint16(raw[0] & 0b0011_1111)
		identBits0to1 := uint16(raw[1]>>6) & 0b11
		identBits8to13 := uint16(raw[1] & 0b0011_1111)
		networkPrefix = (identBits8to13 << 8) | (identBits2to7 << 2) | identBits0to1
	default:
		return nil, 0, invalidAddress("unsupported address prefix format")
	}

	body := raw[prefixLen:]
	if len(body) < simpleAccountChecksumLen {
		return nil, 0, invalidAddress("address too short")
	}

	payloadLen := len(body) - simpleAccountChecksumLen
	payload := body[:payloadLen]
	checksum := body[payloadLen:]

	expected, err := computeChecksum(raw[:prefixLen], payload, simpleAccountChecksumLen)
	if err != nil {
		return nil, 0, err
	}
	for i := range checksum {
		if checksum[i] != expected[i] {
			return nil, 0, invalidAddress("checksum mismatch")
		}
	}

	return payload, networkPrefix, nil
}

// Encode encodes a raw public key with the given network prefix.
func Encode(pubkey []byte, prefix uint16) (string, error) {
	if len(pubkey) == 0 {
		return "", invalidAddress("empty public key")
	}

	prefixBytes, err := encodePrefix(prefix)
	if err != nil {
		return "", err
	}

	checksum, err := computeChecksum(prefixBytes, pubkey, simpleAccountChecksumLen)
	if err != nil {
		return "", err
	}

	payload := append(append([]byte{}, prefixBytes...), pubkey...)
	payload = append(payload, checksum...)

	return base58.Encode(payload), nil
}

// Reencode decodes address and re-encodes its raw public key with a new
// network prefix, per spec.md §4.3 step 3. Re-encoding an already-correct
// address (same prefix) is a no-op: it yields a byte-identical address.
func Reencode(address string, newPrefix uint16) (string, error) {
	pubkey, _, err := Decode(address)
	if err != nil {
		return "", err
	}
	return Encode(pubkey, newPrefix)
}

func encodePrefix(prefix uint16) ([]byte, error) {
	if prefix < 64 {
		return []byte{byte(prefix)}, nil
	}
	if prefix > 16383 {
		return nil, invalidAddress(fmt.Sprintf("prefix %d out of range", prefix))
	}
	first := byte(0b0100_0000 | ((prefix & 0b0000_0000_1111_1100) >> 2))
	second := byte((prefix >> 8) | ((prefix & 0b0000_0000_0000_0011) << 6))
	return []byte{first, second}, nil
}

func computeChecksum(prefixBytes, payload []byte, length int) ([]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeInvalidAddress, chainerrors.Input, "blake2b init failed", err)
	}
	h.Write([]byte(checksumPrefix))
	h.Write(prefixBytes)
	h.Write(payload)
	sum := h.Sum(nil)
	return sum[:length], nil
}

func invalidAddress(msg string) *chainerrors.EngineError {
	return chainerrors.New(chainerrors.CodeInvalidAddress, chainerrors.Input, msg, nil)
}
