package otp

import (
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidEntry reports an entry that fails validation before any
// crypto work happens.
var ErrInvalidEntry = errors.New("otp: invalid entry")

const (
	MinDigits = 6
	MaxDigits = 10

	DefaultDigits = 6
	DefaultPeriod = 30
)

// Entry holds one account's TOTP parameters. Entries are immutable once
// stored; changing one means remove and re-add.
type Entry struct {
	Name      string `json:"name"`
	Secret    []byte `json:"secret"`
	Algorithm Hash   `json:"algorithm"`
	Digits    uint   `json:"digits"`
	Period    uint   `json:"period"`
	// T0 shifts the counter epoch in Unix seconds. Nearly always zero,
	// but RFC 6238 allows it and some deployments use it.
	T0 uint64 `json:"t0,omitempty"`
}

// NewEntry builds an entry from a raw secret and validates it.
func NewEntry(name string, secret []byte, algorithm Hash, digits, period uint) (Entry, error) {
	e := Entry{
		Name:      name,
		Secret:    secret,
		Algorithm: algorithm,
		Digits:    digits,
		Period:    period,
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// NewEntryFromBase32 builds an entry from a base32-encoded secret, the
// encoding used by otpauth URIs and setup keys shown by most services.
// Lowercase, spaces and missing padding are tolerated.
func NewEntryFromBase32(name, secret string, algorithm Hash, digits, period uint) (Entry, error) {
	raw, err := decodeBase32Secret(secret)
	if err != nil {
		return Entry{}, err
	}
	return NewEntry(name, raw, algorithm, digits, period)
}

func decodeBase32Secret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(secret, " ", ""), "-", ""))
	if n := len(s) % 8; n != 0 {
		s += strings.Repeat("=", 8-n)
	}
	raw, err := base32.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base32 secret: %v", ErrInvalidEntry, err)
	}
	return raw, nil
}

// Validate checks the entry invariants.
func (e Entry) Validate() error {
	switch {
	case e.Name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidEntry)
	case len(e.Secret) == 0:
		return fmt.Errorf("%w: secret is empty", ErrInvalidEntry)
	case e.Digits < MinDigits || e.Digits > MaxDigits:
		return fmt.Errorf("%w: digits must be %d-%d, got %d", ErrInvalidEntry, MinDigits, MaxDigits, e.Digits)
	case e.Period == 0:
		return fmt.Errorf("%w: period must be positive", ErrInvalidEntry)
	}
	if _, ok := hashNames[e.Algorithm]; !ok {
		return fmt.Errorf("%w: unknown hash %d", ErrInvalidEntry, uint8(e.Algorithm))
	}
	return nil
}

// URI renders the entry as an otpauth:// URI so it can be moved into an
// authenticator app, typically through a QR code.
func (e Entry) URI(issuer string) string {
	label := e.Name
	if issuer != "" {
		label = issuer + ":" + e.Name
	}
	q := url.Values{}
	q.Set("secret", base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(e.Secret))
	q.Set("algorithm", e.Algorithm.String())
	q.Set("digits", strconv.FormatUint(uint64(e.Digits), 10))
	q.Set("period", strconv.FormatUint(uint64(e.Period), 10))
	if issuer != "" {
		q.Set("issuer", issuer)
	}
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + label,
		RawQuery: q.Encode(),
	}
	return u.String()
}
