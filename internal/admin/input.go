package admin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errPasswordMismatch = errors.New("passwords do not match")

// PromptPassword reads a password twice from the terminal without echo and
// requires both entries to match.
func PromptPassword(w io.Writer) (string, error) {
	first, err := readLine(w, "Enter password: ")
	if err != nil {
		return "", err
	}
	defer wipe(first)

	second, err := readLine(w, "Repeat password: ")
	if err != nil {
		return "", err
	}
	defer wipe(second)

	if !bytes.Equal(first, second) {
		return "", errPasswordMismatch
	}
	return string(first), nil
}

func readLine(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
