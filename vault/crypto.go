package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// kdfInfo domain-separates the file-encryption key from any other key
// that might be derived from the same master key later.
var kdfInfo = []byte("totpvault fek v1")

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DefaultKDFParams returns the Argon2id costs used for new containers.
// Intentionally slow: the vault file is expected to travel through cloud
// drives and USB sticks, so offline brute force is the threat model.
func DefaultKDFParams() *KDFParams { return &KDFParams{Time: 3, Memory: 256 * 1024, Threads: 1} }

func validateKDFParams(p *KDFParams) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil params", ErrKDFParams)
	case p.Time == 0:
		return fmt.Errorf("%w: time cost must be positive", ErrKDFParams)
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("%w: memory cost too low", ErrKDFParams)
	case p.Threads == 0:
		return fmt.Errorf("%w: parallelism must be positive", ErrKDFParams)
	case len(p.Salt) != SaltLen:
		return fmt.Errorf("%w: salt must be %d bytes", ErrKDFParams, SaltLen)
	}
	return nil
}

// deriveFEK turns a passphrase into the file-encryption key: Argon2id to
// a master key, then HKDF-SHA256 expand. The passphrase and the master
// key are wiped before returning, on error paths too.
func deriveFEK(passphrase []byte, params *KDFParams, info []byte) ([]byte, error) {
	if err := validateKDFParams(params); err != nil {
		zero(passphrase)
		return nil, err
	}
	master := argon2.IDKey(passphrase, params.Salt, params.Time, params.Memory, params.Threads, MasterKeyLen)
	zero(passphrase)
	defer zero(master)

	h := hkdf.New(sha256.New, master, nil, info)
	fek := make([]byte, FEKLen)
	if _, err := io.ReadFull(h, fek); err != nil {
		zero(fek)
		return nil, fmt.Errorf("expand key: %w", err)
	}
	return fek, nil
}

func newNonce() ([]byte, error) {
	nonce, err := randBytes(NonceLen)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

func aeadSeal(fek, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(fek)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func aeadOpen(fek, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(fek)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

func encodeHeader(h fileHeader) ([]byte, error) {
	buf := &bytes.Buffer{}

	// Magic
	if _, err := buf.WriteString(Magic); err != nil {
		return nil, err
	}

	// Version
	if err := buf.WriteByte(Version); err != nil {
		return nil, err
	}

	// Flags
	if err := binary.Write(buf, binary.BigEndian, h.Flags); err != nil {
		return nil, err
	}

	// Vault ID
	if _, err := buf.Write(h.VaultID[:]); err != nil {
		return nil, err
	}

	// KDF Algo
	if err := buf.WriteByte(h.KDFAlgo); err != nil {
		return nil, err
	}

	// Argon2 params
	if err := binary.Write(buf, binary.BigEndian, h.ArgonTime); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, h.ArgonMemory); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(h.ArgonThreads); err != nil {
		return nil, err
	}

	// Salt
	if len(h.Salt) > 255 {
		return nil, errors.New("salt too long")
	}
	if err := buf.WriteByte(uint8(len(h.Salt))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(h.Salt); err != nil {
		return nil, err
	}

	// Nonce
	if len(h.Nonce) > 255 {
		return nil, errors.New("nonce too long")
	}
	if err := buf.WriteByte(uint8(len(h.Nonce))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(h.Nonce); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeHeader(raw []byte) (fileHeader, []byte, error) {
	var h fileHeader
	if len(raw) < 4+1+2+16+1+4+4+1+1+1 { // minimal header check
		return h, nil, ErrCorrupt
	}

	buf := bytes.NewReader(raw)

	// Magic
	magicBytes := make([]byte, 4)
	if _, err := io.ReadFull(buf, magicBytes); err != nil {
		return h, nil, ErrCorrupt
	}
	if string(magicBytes) != Magic {
		return h, nil, ErrCorrupt
	}

	// Version: unknown future formats fail fast rather than read lossily.
	version, err := buf.ReadByte()
	if err != nil || version != Version {
		return h, nil, ErrCorrupt
	}

	// Flags
	if err := binary.Read(buf, binary.BigEndian, &h.Flags); err != nil {
		return h, nil, ErrCorrupt
	}

	// Vault ID
	if _, err := io.ReadFull(buf, h.VaultID[:]); err != nil {
		return h, nil, ErrCorrupt
	}

	// KDF Algo
	if h.KDFAlgo, err = buf.ReadByte(); err != nil {
		return h, nil, ErrCorrupt
	}
	if h.KDFAlgo != kdfArgon2id {
		return h, nil, ErrCorrupt
	}

	// Argon2 params
	if err := binary.Read(buf, binary.BigEndian, &h.ArgonTime); err != nil {
		return h, nil, ErrCorrupt
	}
	if err := binary.Read(buf, binary.BigEndian, &h.ArgonMemory); err != nil {
		return h, nil, ErrCorrupt
	}
	if h.ArgonThreads, err = buf.ReadByte(); err != nil {
		return h, nil, ErrCorrupt
	}

	// Salt. The length byte is fixed for this version; anything else
	// is damage.
	saltLen, err := buf.ReadByte()
	if err != nil || saltLen != SaltLen {
		return h, nil, ErrCorrupt
	}
	h.Salt = make([]byte, saltLen)
	if _, err := io.ReadFull(buf, h.Salt); err != nil {
		return h, nil, ErrCorrupt
	}

	// Nonce. chacha20poly1305 panics on a wrong-size nonce rather than
	// returning an error, so it must never see one.
	nonceLen, err := buf.ReadByte()
	if err != nil || nonceLen != NonceLen {
		return h, nil, ErrCorrupt
	}
	h.Nonce = make([]byte, nonceLen)
	if _, err := io.ReadFull(buf, h.Nonce); err != nil {
		return h, nil, ErrCorrupt
	}

	// Remaining is ciphertext
	ct := raw[len(raw)-buf.Len():]

	return h, ct, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "tvlt-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	_ = syncDir(dir)
	_ = os.Chmod(path, perm)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
