package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"golang.org/x/term"
)

// prompt reads a secret without echoing it.
type prompt interface {
	ReadSecret(label string) (string, error)
}

type terminalPrompt struct {
	fd int
}

func newTerminalPrompt() *terminalPrompt {
	return &terminalPrompt{fd: int(os.Stdin.Fd())}
}

func (p *terminalPrompt) ReadSecret(label string) (string, error) {
	if !term.IsTerminal(p.fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// runHashPassword prints a salt and hash suitable for seeding a user row by
// hand, for example the first Admin account.
func runHashPassword(p prompt, out io.Writer) error {
	password, err := p.ReadSecret("Password: ")
	if err != nil {
		return err
	}
	confirm, err := p.ReadSecret("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	if !auth.IsValidPassword(password) {
		return errors.New("password must be at least 8 characters and contain upper and lower case letters, a digit and a special character")
	}

	h := auth.NewPasswordHasher()
	salt, err := h.GenerateSalt()
	if err != nil {
		return err
	}
	hash, err := h.HashPassword(password, salt)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "salt: %s\nhash: %s\n", salt, hash)
	return nil
}
