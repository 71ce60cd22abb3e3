package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/term"
)

// DefaultVaultPath is where the vault lives when no -i flag is given.
func DefaultVaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(home, ".totpvault")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	return filepath.Join(dir, "vault.data"), nil
}

func ReadPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()

	return pw, err
}

func ReadPasswordMasked(prompt string) []byte {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	state, _ := term.MakeRaw(fd)
	defer term.Restore(fd, state)

	var input []rune
	for {
		var buf [1]byte
		os.Stdin.Read(buf[:])
		c := buf[0]

		switch c {
		case 13, 10: // Enter
			fmt.Println()
			return []byte(string(input))
		case 127, 8: // Backspace
			if len(input) > 0 {
				input = input[:len(input)-1]
				fmt.Print("\b \b")
			}
		default:
			r, _ := utf8.DecodeRune(buf[:])
			input = append(input, r)
			fmt.Print("*")
		}
	}
}

// promptNewPassword asks for a password twice and warns when it looks
// guessable. Scores below 3 on the zxcvbn scale are weak.
func promptNewPassword(prompt string) ([]byte, error) {
	pw := ReadPasswordMasked(prompt + ": ")
	if len(pw) == 0 {
		return nil, errors.New("password must not be empty")
	}
	confirm := ReadPasswordMasked("Confirm " + strings.ToLower(prompt) + ": ")
	defer zeroBytes(confirm)

	if string(pw) != string(confirm) {
		zeroBytes(pw)
		return nil, errors.New("passwords don't match")
	}

	if score := zxcvbn.PasswordStrength(string(pw), nil).Score; score < 3 {
		fmt.Fprintf(os.Stderr, "Warning: this password scores %d/4 and may be feasible to brute-force offline.\n", score)
	}
	return pw, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func readLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readUint reads a number with a default used on empty input.
func readUint(reader *bufio.Reader, prompt string, def uint) (uint, error) {
	line, err := readLine(reader, fmt.Sprintf("%s [%d]: ", prompt, def))
	if err != nil {
		return 0, err
	}
	if line == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(line, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", line)
	}
	return uint(n), nil
}
