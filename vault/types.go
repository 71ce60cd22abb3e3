package vault

import "errors"

const (
	MasterKeyLen = 32
	FEKLen       = 32
	SaltLen      = 16
	NonceLen     = 24
	Magic        = "TVLT"
	Version      = 0x01

	kdfArgon2id = 0x01
)

var (
	ErrLocked    = errors.New("vault: locked")
	ErrCorrupt   = errors.New("vault: corrupt or unsupported file")
	ErrExists    = errors.New("vault: file already exists")
	ErrDuplicate = errors.New("vault: entry already exists")
	ErrNotFound  = errors.New("vault: entry not found")
	ErrKDFParams = errors.New("vault: bad key derivation parameters")

	// ErrAuthFailed covers both a wrong password and a tampered file.
	// The AEAD tag cannot tell them apart, and keeping them conflated
	// denies an attacker a password-guessing oracle.
	ErrAuthFailed = errors.New("vault: authentication failed")
)

// KDFParams are the Argon2id cost parameters persisted in the container
// header. A container written under old parameters stays readable after
// the defaults change.
type KDFParams struct {
	Time, Memory uint32
	Threads      uint8
	Salt         []byte
}

type fileHeader struct {
	Flags        uint16
	VaultID      [16]byte
	KDFAlgo      uint8
	ArgonTime    uint32
	ArgonMemory  uint32
	ArgonThreads uint8
	Salt         []byte
	Nonce        []byte
}
