// Package credentials asks the operator for a database password when none
// was configured.
package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoInput is returned when input ends before a line was read.
var ErrNoInput = errors.New("credentials: no password entered")

// isTerminal is a seam for tests.
var isTerminal = func(fd int) bool { return term.IsTerminal(fd) }

var readPassword = term.ReadPassword

// Prompt writes label to out and reads a password from in. When in is a
// terminal the input is not echoed; otherwise one line is read, which lets
// the password be piped in.
func Prompt(in io.Reader, out io.Writer, label string) (string, error) {
	if label == "" {
		label = "Password: "
	}
	if _, err := fmt.Fprint(out, label); err != nil {
		return "", err
	}

	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("credentials: read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", fmt.Errorf("credentials: read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// NeedsPassword reports whether a connection configured with these values
// has to prompt: no password, no DSN carrying its own credentials, not
// using integrated authentication, and a driver that authenticates.
func NeedsPassword(driver, dsn, password string, trusted bool) bool {
	if password != "" || dsn != "" || trusted {
		return false
	}
	return driver != "sqlite"
}
