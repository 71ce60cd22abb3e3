// Package otp implements time-based one-time password generation per
// RFC 4226 and RFC 6238.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"time"
)

// Hash selects the digest used for HMAC code generation.
type Hash uint8

const (
	SHA1 Hash = iota
	SHA256
	SHA512
)

var hashNames = map[Hash]string{
	SHA1:   "SHA1",
	SHA256: "SHA256",
	SHA512: "SHA512",
}

func (h Hash) String() string {
	if name, ok := hashNames[h]; ok {
		return name
	}
	return fmt.Sprintf("Hash(%d)", uint8(h))
}

// MarshalText stores the algorithm by name so serialized entries stay
// readable if the enum order ever changes.
func (h Hash) MarshalText() ([]byte, error) {
	name, ok := hashNames[h]
	if !ok {
		return nil, fmt.Errorf("%w: unknown hash %d", ErrInvalidEntry, uint8(h))
	}
	return []byte(name), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	for v, name := range hashNames {
		if name == string(text) {
			*h = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown hash %q", ErrInvalidEntry, text)
}

func (h Hash) new() func() hash.Hash {
	switch h {
	case SHA256:
		return sha256.New
	case SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

// Code computes the TOTP value for the instant t, zero-padded to the
// entry's digit count.
func (e Entry) Code(t time.Time) string {
	counter := (uint64(t.Unix()) - e.T0) / uint64(e.Period)
	return e.hotp(counter)
}

// Remaining reports the seconds left until the code for the instant t
// rolls over. Callers use it for countdown display.
func (e Entry) Remaining(t time.Time) int {
	p := int64(e.Period)
	return int(p - (t.Unix()-int64(e.T0))%p)
}

// hotp is the RFC 4226 HMAC-based OTP with dynamic truncation. TOTP is
// this applied to a time-derived counter.
func (e Entry) hotp(counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(e.Algorithm.new(), e.Secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: the low nibble of the last byte picks a 4-byte
	// window, read big-endian with the top bit masked off.
	offset := sum[len(sum)-1] & 0x0f
	bin := uint64(binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff)

	// uint64 so a 10-digit modulus does not overflow.
	mod := uint64(1)
	for i := uint(0); i < e.Digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", e.Digits, bin%mod)
}
