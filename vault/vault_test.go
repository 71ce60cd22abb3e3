package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmaliyi/totpvault/otp"
)

const testPassword = "correct horse battery staple"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.data")
	v := New(path, testKDFParams(nil))
	require.NoError(t, v.Create(pw(testPassword)))
	return v
}

func testEntry(t *testing.T, name string) otp.Entry {
	t.Helper()
	e, err := otp.NewEntry(name, []byte("12345678901234567890"), otp.SHA1, 6, 30)
	require.NoError(t, err)
	return e
}

func TestCreateAndReopenRoundTrip(t *testing.T) {
	v := newTestVault(t)

	e1 := testEntry(t, "github")
	e2, err := otp.NewEntryFromBase32("email", "JBSWY3DPEHPK3PXP", otp.SHA256, 8, 60)
	require.NoError(t, err)
	require.NoError(t, v.Add(e1))
	require.NoError(t, v.Add(e2))
	id := v.ID()

	v.Lock()
	assert.False(t, v.Unlocked())

	u := New(v.Path, nil)
	require.NoError(t, u.Open(pw(testPassword)))
	assert.Equal(t, id, u.ID())
	assert.Equal(t, []string{"email", "github"}, u.List())

	got1, err := u.Entry("github")
	require.NoError(t, err)
	assert.Equal(t, e1, got1)
	got2, err := u.Entry("email")
	require.NoError(t, err)
	assert.Equal(t, e2, got2)
}

func TestCreateRefusesExistingFile(t *testing.T) {
	v := newTestVault(t)
	again := New(v.Path, testKDFParams(nil))
	assert.ErrorIs(t, again.Create(pw(testPassword)), ErrExists)
}

func TestOpenWrongPassword(t *testing.T) {
	v := newTestVault(t)
	v.Lock()

	u := New(v.Path, nil)
	assert.ErrorIs(t, u.Open(pw("not the password")), ErrAuthFailed)
	assert.False(t, u.Unlocked())
}

func TestOpenMissingFile(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "nope.data"), nil)
	err := u.Open(pw(testPassword))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, ErrAuthFailed)
}

// Any bit flipped past the magic+version prefix must fail authentication,
// never decrypt to a silently-wrong vault. The prefix itself fails the
// structural decode instead.
func TestTamperDetection(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add(testEntry(t, "github")))
	v.Lock()

	raw, err := os.ReadFile(v.Path)
	require.NoError(t, err)

	header, ct, err := decodeHeader(raw)
	require.NoError(t, err)
	ctStart := len(raw) - len(ct)
	nonceStart := ctStart - len(header.Nonce)

	targets := map[string]int{
		"flags":         5,
		"vault id":      9,
		"argon memory":  4 + 1 + 2 + 16 + 1 + 4 + 4 - 1, // low byte, stays a sane cost
		"salt":          ctStart - len(header.Nonce) - 1 - len(header.Salt),
		"nonce":         nonceStart + 3,
		"ciphertext":    ctStart + 4,
		"integrity tag": len(raw) - 1,
	}
	for name, idx := range targets {
		t.Run(name, func(t *testing.T) {
			tampered := append([]byte(nil), raw...)
			tampered[idx] ^= 0x01
			require.NoError(t, os.WriteFile(v.Path, tampered, 0600))

			u := New(v.Path, nil)
			assert.ErrorIs(t, u.Open(pw(testPassword)), ErrAuthFailed)
		})
	}

	// Structural bytes: damage here must surface as corruption before any
	// key derivation or decryption runs.
	saltLenIdx := ctStart - len(header.Nonce) - 1 - len(header.Salt) - 1
	structural := map[string]int{
		"version byte":      4,
		"salt length byte":  saltLenIdx,
		"nonce length byte": nonceStart - 1,
	}
	for name, idx := range structural {
		t.Run(name, func(t *testing.T) {
			tampered := append([]byte(nil), raw...)
			tampered[idx] ^= 0x01
			require.NoError(t, os.WriteFile(v.Path, tampered, 0600))

			u := New(v.Path, nil)
			assert.ErrorIs(t, u.Open(pw(testPassword)), ErrCorrupt)
		})
	}
}

func TestNonceUniquenessAcrossWrites(t *testing.T) {
	v := newTestVault(t)

	readNonce := func() string {
		raw, err := os.ReadFile(v.Path)
		require.NoError(t, err)
		header, _, err := decodeHeader(raw)
		require.NoError(t, err)
		return string(header.Nonce)
	}

	seen := map[string]bool{readNonce(): true}
	for i := 0; i < 4; i++ {
		require.NoError(t, v.Add(testEntry(t, string(rune('a'+i)))))
		n := readNonce()
		assert.False(t, seen[n], "nonce reused on write %d", i)
		seen[n] = true
	}
	require.NoError(t, v.Remove("a"))
	n := readNonce()
	assert.False(t, seen[n], "nonce reused after remove")
	seen[n] = true

	require.NoError(t, v.ChangePassword(pw(testPassword), pw("new password here")))
	n = readNonce()
	assert.False(t, seen[n], "nonce reused after rotation")
	seen[n] = true

	assert.Len(t, seen, 7)
}

func TestAddDuplicate(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add(testEntry(t, "github")))

	before, err := os.ReadFile(v.Path)
	require.NoError(t, err)

	dup, err := otp.NewEntry("github", []byte("other secret"), otp.SHA256, 8, 60)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Add(dup), ErrDuplicate)

	// Neither memory nor disk changed.
	got, err := v.Entry("github")
	require.NoError(t, err)
	assert.Equal(t, testEntry(t, "github"), got)
	after, err := os.ReadFile(v.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAddInvalidEntry(t *testing.T) {
	v := newTestVault(t)
	err := v.Add(otp.Entry{Name: "x", Secret: []byte("s"), Digits: 3, Period: 30})
	assert.ErrorIs(t, err, otp.ErrInvalidEntry)
	assert.Empty(t, v.List())
}

func TestRemoveAndShowMissing(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add(testEntry(t, "github")))

	assert.ErrorIs(t, v.Remove("gitlab"), ErrNotFound)
	_, _, err := v.Code("gitlab", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"github"}, v.List(), "failed lookups must not mutate")

	require.NoError(t, v.Remove("github"))
	assert.Empty(t, v.List())
	assert.ErrorIs(t, v.Remove("github"), ErrNotFound)
}

func TestCodeThroughVault(t *testing.T) {
	v := newTestVault(t)
	e, err := otp.NewEntry("rfc", []byte("12345678901234567890"), otp.SHA1, 8, 30)
	require.NoError(t, err)
	require.NoError(t, v.Add(e))

	code, remaining, err := v.Code("rfc", time.Unix(1111111109, 0))
	require.NoError(t, err)
	assert.Equal(t, "07081804", code, "zero-padded to the configured digits")
	assert.Equal(t, 1, remaining)
}

func TestListStable(t *testing.T) {
	v := newTestVault(t)
	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, v.Add(testEntry(t, name)))
	}
	first := v.List()
	assert.Equal(t, []string{"alpha", "mike", "zulu"}, first)
	assert.Equal(t, first, v.List())
}

func TestLockedOperations(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add(testEntry(t, "github")))
	v.Lock()

	assert.ErrorIs(t, v.Add(testEntry(t, "other")), ErrLocked)
	assert.ErrorIs(t, v.Remove("github"), ErrLocked)
	_, err := v.Entry("github")
	assert.ErrorIs(t, err, ErrLocked)
	_, _, err = v.Code("github", time.Now())
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, v.ChangePassword(pw(testPassword), pw("x")), ErrLocked)
	assert.Empty(t, v.List())
}

func TestChangePassword(t *testing.T) {
	v := newTestVault(t)
	e := testEntry(t, "github")
	require.NoError(t, v.Add(e))

	rawBefore, err := os.ReadFile(v.Path)
	require.NoError(t, err)
	hdrBefore, _, err := decodeHeader(rawBefore)
	require.NoError(t, err)

	require.NoError(t, v.ChangePassword(pw(testPassword), pw("a whole new password")))

	rawAfter, err := os.ReadFile(v.Path)
	require.NoError(t, err)
	hdrAfter, _, err := decodeHeader(rawAfter)
	require.NoError(t, err)
	assert.NotEqual(t, hdrBefore.Salt, hdrAfter.Salt, "rotation regenerates the salt")
	assert.NotEqual(t, hdrBefore.Nonce, hdrAfter.Nonce)
	assert.Equal(t, hdrBefore.VaultID, hdrAfter.VaultID)

	old := New(v.Path, nil)
	assert.ErrorIs(t, old.Open(pw(testPassword)), ErrAuthFailed)

	u := New(v.Path, nil)
	require.NoError(t, u.Open(pw("a whole new password")))
	got, err := u.Entry("github")
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestChangePasswordWrongOld(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add(testEntry(t, "github")))

	before, err := os.ReadFile(v.Path)
	require.NoError(t, err)

	assert.ErrorIs(t, v.ChangePassword(pw("wrong"), pw("irrelevant")), ErrAuthFailed)

	after, err := os.ReadFile(v.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The handle still works under the real password's key.
	require.NoError(t, v.Add(testEntry(t, "still-works")))
}

// A crash after the temp file is written but before the rename must leave
// the previous container untouched and unlockable.
func TestRotationCrashLeavesOldContainerIntact(t *testing.T) {
	v := newTestVault(t)
	e := testEntry(t, "github")
	require.NoError(t, v.Add(e))

	preRotation, err := os.ReadFile(v.Path)
	require.NoError(t, err)

	// Simulate the interrupted write: a temp file exists next to the
	// container, the rename never happened.
	stray := filepath.Join(filepath.Dir(v.Path), "tvlt-crashed")
	require.NoError(t, os.WriteFile(stray, []byte("half-written garbage"), 0600))

	u := New(v.Path, nil)
	require.NoError(t, u.Open(pw(testPassword)))
	got, err := u.Entry("github")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	// And the pre-rotation bytes themselves stay a valid container under
	// the old password even after a completed rotation elsewhere.
	require.NoError(t, v.ChangePassword(pw(testPassword), pw("rotated password")))
	restored := filepath.Join(t.TempDir(), "restored.data")
	require.NoError(t, os.WriteFile(restored, preRotation, 0600))
	r := New(restored, nil)
	require.NoError(t, r.Open(pw(testPassword)))
	assert.Equal(t, []string{"github"}, r.List())
}

func TestLockWipesState(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add(testEntry(t, "github")))

	fek := v.fek
	secret := v.entries["github"].Secret
	v.Lock()

	assert.Nil(t, v.fek)
	assert.Nil(t, v.entries)
	assert.Equal(t, make([]byte, len(fek)), fek, "key material wiped")
	assert.Equal(t, make([]byte, len(secret)), secret, "entry secret wiped")
}
