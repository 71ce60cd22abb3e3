// Package cli implements the interactive command handlers. Everything
// here is prompts and formatting; the vault and otp packages do the work.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"time"

	otpuri "github.com/pquerna/otp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/fahmaliyi/totpvault/otp"
	"github.com/fahmaliyi/totpvault/vault"
)

// Create initializes a new empty vault at path.
func Create(path string) error {
	pw, err := promptNewPassword("Vault password")
	if err != nil {
		return err
	}

	v := vault.New(path, nil)
	if err := v.Create(pw); err != nil {
		return err
	}
	defer v.Lock()

	fmt.Printf("Created vault %s (%s)\n", path, v.ID())
	return nil
}

func unlock(path string) (*vault.Vault, error) {
	pw, err := ReadPassword("Vault password: ")
	if err != nil {
		return nil, err
	}
	v := vault.New(path, nil)
	if err := v.Open(pw); err != nil {
		return nil, err
	}
	return v, nil
}

// Add prompts for a new entry and stores it. With encoded set the secret
// is read as base32 text (the form authenticator URIs and setup keys
// use); uri, when non-empty, imports the entry from an otpauth:// URI
// instead of prompting.
func Add(path string, encoded bool, uri string) error {
	v, err := unlock(path)
	if err != nil {
		return err
	}
	defer v.Lock()

	var e otp.Entry
	if uri != "" {
		e, err = entryFromURI(uri)
	} else {
		e, err = promptEntry(encoded)
	}
	if err != nil {
		return err
	}

	if err := v.Add(e); err != nil {
		return err
	}
	fmt.Printf("Added entry: %s\n", e.Name)
	return nil
}

func promptEntry(encoded bool) (otp.Entry, error) {
	reader := bufio.NewReader(os.Stdin)

	name, err := readLine(reader, "Name: ")
	if err != nil {
		return otp.Entry{}, err
	}
	secret := ReadPasswordMasked("Secret key: ")

	digits, err := readUint(reader, "Digits", otp.DefaultDigits)
	if err != nil {
		return otp.Entry{}, err
	}
	period, err := readUint(reader, "Period (seconds)", otp.DefaultPeriod)
	if err != nil {
		return otp.Entry{}, err
	}

	choice, err := readUint(reader, "Algorithm (1=SHA-1, 2=SHA-256, 3=SHA-512)", 1)
	if err != nil {
		return otp.Entry{}, err
	}
	var algorithm otp.Hash
	switch choice {
	case 1:
		algorithm = otp.SHA1
	case 2:
		algorithm = otp.SHA256
	case 3:
		algorithm = otp.SHA512
	default:
		return otp.Entry{}, fmt.Errorf("unknown algorithm choice %d", choice)
	}

	if encoded {
		return otp.NewEntryFromBase32(name, string(secret), algorithm, digits, period)
	}
	return otp.NewEntry(name, secret, algorithm, digits, period)
}

func entryFromURI(uri string) (otp.Entry, error) {
	key, err := otpuri.NewKeyFromURL(uri)
	if err != nil {
		return otp.Entry{}, fmt.Errorf("parse otpauth uri: %w", err)
	}
	if key.Type() != "totp" {
		return otp.Entry{}, fmt.Errorf("unsupported otp type %q", key.Type())
	}

	var algorithm otp.Hash
	switch key.Algorithm() {
	case otpuri.AlgorithmSHA1:
		algorithm = otp.SHA1
	case otpuri.AlgorithmSHA256:
		algorithm = otp.SHA256
	case otpuri.AlgorithmSHA512:
		algorithm = otp.SHA512
	default:
		return otp.Entry{}, fmt.Errorf("unsupported algorithm %q", key.Algorithm())
	}

	name := key.AccountName()
	if name == "" {
		name = key.Issuer()
	}
	return otp.NewEntryFromBase32(name, key.Secret(), algorithm, uint(key.Digits().Length()), uint(key.Period()))
}

// Remove deletes the named entry.
func Remove(path, name string) error {
	v, err := unlock(path)
	if err != nil {
		return err
	}
	defer v.Lock()

	if err := v.Remove(name); err != nil {
		return err
	}
	fmt.Printf("Removed entry: %s\n", name)
	return nil
}

// Show prints the entry's current code and how long it stays valid.
func Show(path, name string) error {
	v, err := unlock(path)
	if err != nil {
		return err
	}
	defer v.Lock()

	code, remaining, err := v.Code(name, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("%s (valid for %ds)\n", code, remaining)
	return nil
}

// List prints entry names, one per line, in stable order.
func List(path string) error {
	v, err := unlock(path)
	if err != nil {
		return err
	}
	defer v.Lock()

	for _, name := range v.List() {
		fmt.Println(name)
	}
	return nil
}

// ChangePassword rotates the vault password.
func ChangePassword(path string) error {
	pw, err := ReadPassword("Current vault password: ")
	if err != nil {
		return err
	}
	// Open wipes the buffer it is handed, and rotation needs the old
	// password again for verification.
	old := append([]byte(nil), pw...)

	v := vault.New(path, nil)
	if err := v.Open(pw); err != nil {
		zeroBytes(old)
		return err
	}
	defer v.Lock()

	newPw, err := promptNewPassword("New vault password")
	if err != nil {
		zeroBytes(old)
		return err
	}

	if err := v.ChangePassword(old, newPw); err != nil {
		return err
	}
	fmt.Println("Password changed.")
	return nil
}

// ExportQR writes the named entry as an otpauth:// QR code PNG, scannable
// by authenticator apps.
func ExportQR(path, name, issuer, out string) error {
	v, err := unlock(path)
	if err != nil {
		return err
	}
	defer v.Lock()

	e, err := v.Entry(name)
	if err != nil {
		return err
	}
	if err := qrcode.WriteFile(e.URI(issuer), qrcode.Medium, 256, out); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("Wrote %s\n", out)
	return nil
}

// Watch opens the live TUI with codes and countdowns for all entries.
func Watch(path string) error {
	v, err := unlock(path)
	if err != nil {
		return err
	}
	defer v.Lock()

	return RunTUI(v)
}
