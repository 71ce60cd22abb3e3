// Package vault stores TOTP account entries in one encrypted file the
// user can move or sync by whatever means they trust. The file is sealed
// with XChaCha20-Poly1305 under a key derived from the vault password
// with Argon2id; every write re-encrypts the whole entry set under a
// fresh nonce and replaces the file atomically.
package vault

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fahmaliyi/totpvault/otp"
)

// payloadVersion tags the encrypted entry-set schema, separate from the
// container format version in the header.
const payloadVersion = 1

type payload struct {
	Version int         `json:"version"`
	Entries []otp.Entry `json:"entries"`
}

// Vault is a handle to one container file. A zero handle is locked; Open
// or Create unlocks it. Handles are not safe for concurrent use, and two
// processes writing the same path race last-writer-wins at the rename.
type Vault struct {
	Path string
	KDF  *KDFParams

	id      uuid.UUID
	fek     []byte
	entries map[string]otp.Entry
}

// New returns a locked handle for the container at path. A nil kdf means
// DefaultKDFParams when the container is created.
func New(path string, kdf *KDFParams) *Vault {
	if kdf == nil {
		kdf = DefaultKDFParams()
	}
	return &Vault{Path: path, KDF: kdf}
}

// Unlocked reports whether the handle holds a verified key.
func (v *Vault) Unlocked() bool { return v.fek != nil }

// ID identifies the container. It is assigned at creation and survives
// password rotation, so synced copies can be told apart from distinct
// vaults.
func (v *Vault) ID() string { return v.id.String() }

// Create initializes an empty container at the handle's path and leaves
// the handle unlocked. The passphrase is wiped. Fails with ErrExists if
// the path is already occupied.
func (v *Vault) Create(passphrase []byte) error {
	if _, err := os.Stat(v.Path); err == nil {
		zero(passphrase)
		return fmt.Errorf("%w: %s", ErrExists, v.Path)
	} else if !os.IsNotExist(err) {
		zero(passphrase)
		return fmt.Errorf("stat %s: %w", v.Path, err)
	}

	if v.KDF == nil {
		v.KDF = DefaultKDFParams()
	}
	if len(v.KDF.Salt) == 0 {
		salt, err := randBytes(SaltLen)
		if err != nil {
			zero(passphrase)
			return fmt.Errorf("generate salt: %w", err)
		}
		v.KDF.Salt = salt
	}

	fek, err := deriveFEK(passphrase, v.KDF, kdfInfo)
	if err != nil {
		return err
	}

	v.id = uuid.New()
	v.fek = fek
	v.entries = make(map[string]otp.Entry)

	if err := v.save(); err != nil {
		v.Lock()
		return err
	}
	return nil
}

// Open unlocks the handle against the container on disk. The passphrase
// is wiped. A wrong password and a tampered file both surface as
// ErrAuthFailed; structural damage surfaces as ErrCorrupt.
func (v *Vault) Open(passphrase []byte) error {
	raw, err := os.ReadFile(v.Path)
	if err != nil {
		zero(passphrase)
		return fmt.Errorf("read %s: %w", v.Path, err)
	}

	header, ct, err := decodeHeader(raw)
	if err != nil {
		zero(passphrase)
		return err
	}

	// Restore the KDF params the container was written under.
	v.KDF = &KDFParams{
		Time:    header.ArgonTime,
		Memory:  header.ArgonMemory,
		Threads: header.ArgonThreads,
		Salt:    header.Salt,
	}
	v.id = uuid.UUID(header.VaultID)

	fek, err := deriveFEK(passphrase, v.KDF, kdfInfo)
	if err != nil {
		return err
	}

	// The header bytes are the associated data, so flipping any bit in
	// the persisted KDF params or ID fails authentication as well.
	aad := raw[:len(raw)-len(ct)]
	pt, err := aeadOpen(fek, header.Nonce, aad, ct)
	if err != nil {
		zero(fek)
		return ErrAuthFailed
	}
	defer zero(pt)

	var p payload
	if err := json.Unmarshal(pt, &p); err != nil {
		zero(fek)
		return ErrCorrupt
	}
	if p.Version != payloadVersion {
		zero(fek)
		return ErrCorrupt
	}

	entries := make(map[string]otp.Entry, len(p.Entries))
	for _, e := range p.Entries {
		entries[e.Name] = e
	}
	v.fek = fek
	v.entries = entries
	return nil
}

// Lock wipes the key and the decrypted entries from memory.
func (v *Vault) Lock() {
	zero(v.fek)
	v.fek = nil
	for name, e := range v.entries {
		zero(e.Secret)
		delete(v.entries, name)
	}
	v.entries = nil
}

// Add validates and inserts an entry and persists the vault. Nothing is
// durable until Add returns nil.
func (v *Vault) Add(e otp.Entry) error {
	if !v.Unlocked() {
		return ErrLocked
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if _, ok := v.entries[e.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, e.Name)
	}

	v.entries[e.Name] = e
	if err := v.save(); err != nil {
		delete(v.entries, e.Name)
		return err
	}
	return nil
}

// Remove deletes the named entry and persists the vault.
func (v *Vault) Remove(name string) error {
	if !v.Unlocked() {
		return ErrLocked
	}
	e, ok := v.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	delete(v.entries, name)
	if err := v.save(); err != nil {
		v.entries[name] = e
		return err
	}
	zero(e.Secret)
	return nil
}

// Entry returns the named entry.
func (v *Vault) Entry(name string) (otp.Entry, error) {
	if !v.Unlocked() {
		return otp.Entry{}, ErrLocked
	}
	e, ok := v.entries[name]
	if !ok {
		return otp.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// Code returns the named entry's code at the instant t along with the
// seconds until it expires.
func (v *Vault) Code(name string, t time.Time) (string, int, error) {
	e, err := v.Entry(name)
	if err != nil {
		return "", 0, err
	}
	return e.Code(t), e.Remaining(t), nil
}

// List returns the entry names in lexicographic order. Locked handles
// list nothing.
func (v *Vault) List() []string {
	names := make([]string, 0, len(v.entries))
	for name := range v.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChangePassword rotates the vault password: the old passphrase is
// verified against the held key, then the container is re-encrypted
// under a brand-new salt and a fresh nonce. Cost parameters carry over
// from the open container. The old container stays intact on disk until
// the rename commits, so a crash mid-rotation loses nothing. Both
// passphrases are wiped.
func (v *Vault) ChangePassword(oldPassphrase, newPassphrase []byte) error {
	if !v.Unlocked() {
		zero(oldPassphrase)
		zero(newPassphrase)
		return ErrLocked
	}

	check, err := deriveFEK(oldPassphrase, v.KDF, kdfInfo)
	if err != nil {
		zero(newPassphrase)
		return err
	}
	ok := subtle.ConstantTimeCompare(check, v.fek) == 1
	zero(check)
	if !ok {
		zero(newPassphrase)
		return ErrAuthFailed
	}

	next := &KDFParams{Time: v.KDF.Time, Memory: v.KDF.Memory, Threads: v.KDF.Threads}
	if next.Salt, err = randBytes(SaltLen); err != nil {
		zero(newPassphrase)
		return fmt.Errorf("generate salt: %w", err)
	}
	fek, err := deriveFEK(newPassphrase, next, kdfInfo)
	if err != nil {
		return err
	}

	prevKDF, prevFEK := v.KDF, v.fek
	v.KDF, v.fek = next, fek
	if err := v.save(); err != nil {
		v.KDF, v.fek = prevKDF, prevFEK
		zero(fek)
		return err
	}
	zero(prevFEK)
	return nil
}

// save re-serializes, re-encrypts under a fresh nonce, and atomically
// replaces the container file. Any failure leaves the previous container
// bytes untouched.
func (v *Vault) save() error {
	if !v.Unlocked() {
		return ErrLocked
	}

	p := payload{Version: payloadVersion, Entries: make([]otp.Entry, 0, len(v.entries))}
	for _, name := range v.List() {
		p.Entries = append(p.Entries, v.entries[name])
	}
	pt, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	defer zero(pt)

	nonce, err := newNonce()
	if err != nil {
		return err
	}

	header := fileHeader{
		Flags:        0,
		VaultID:      [16]byte(v.id),
		KDFAlgo:      kdfArgon2id,
		ArgonTime:    v.KDF.Time,
		ArgonMemory:  v.KDF.Memory,
		ArgonThreads: v.KDF.Threads,
		Salt:         v.KDF.Salt,
		Nonce:        nonce,
	}
	hdrBytes, err := encodeHeader(header)
	if err != nil {
		return err
	}

	ct, err := aeadSeal(v.fek, nonce, pt, hdrBytes)
	if err != nil {
		return err
	}

	raw := append(hdrBytes, ct...)
	if err := atomicWriteFile(v.Path, raw, 0600); err != nil {
		return fmt.Errorf("write %s: %w", v.Path, err)
	}
	return nil
}
