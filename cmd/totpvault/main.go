package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/fahmaliyi/totpvault/cli"
	"github.com/fahmaliyi/totpvault/vault"
)

func main() {
	dbPath := flag.String("i", "", "path to the vault database (default ~/.totpvault/vault.data)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		var err error
		if path, err = cli.DefaultVaultPath(); err != nil {
			fail(fmt.Errorf("determine vault path: %w", err))
		}
	}

	if err := run(path, args[0], args[1:]); err != nil {
		fail(err)
	}
}

func run(path, command string, args []string) error {
	switch command {
	case "create":
		return cli.Create(path)

	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		encoded := fs.Bool("e", false, "treat the secret key as base32 encoded")
		uri := fs.String("uri", "", "import the entry from an otpauth:// URI")
		fs.Parse(args)
		return cli.Add(path, *encoded, *uri)

	case "remove":
		if len(args) != 1 {
			return errors.New("usage: totpvault remove <name>")
		}
		return cli.Remove(path, args[0])

	case "show":
		if len(args) != 1 {
			return errors.New("usage: totpvault show <name>")
		}
		return cli.Show(path, args[0])

	case "list":
		return cli.List(path)

	case "newpass":
		return cli.ChangePassword(path)

	case "qr":
		fs := flag.NewFlagSet("qr", flag.ExitOnError)
		issuer := fs.String("issuer", "", "issuer label embedded in the otpauth URI")
		fs.Parse(args)
		if fs.NArg() != 2 {
			return errors.New("usage: totpvault qr [-issuer name] <name> <out.png>")
		}
		return cli.ExportQR(path, fs.Arg(0), *issuer, fs.Arg(1))

	case "watch":
		return cli.Watch(path)

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func fail(err error) {
	switch {
	case errors.Is(err, vault.ErrAuthFailed):
		// Deliberately does not say whether the password was wrong or
		// the file was tampered with.
		fmt.Fprintln(os.Stderr, "could not open vault")
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `totpvault stores TOTP accounts in one encrypted file you control.

Usage: totpvault [-i database] <command> [args]

Commands:
  create              create a new empty vault
  add [-e] [-uri U]   add an entry (-e: secret is base32 encoded)
  remove <name>       remove an entry
  show <name>         print the entry's current code
  list                print entry names
  newpass             change the vault password
  qr <name> <out.png> export an entry as an otpauth QR code
  watch               live view of all codes
`)
}
