package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/markb/mentionbot/internal/autherr"
)

// PromptSecret reads a secret from the terminal without echo. It fails with
// ErrConfig when stdin is not a terminal.
func PromptSecret(out io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: %s is not set and stdin is not a terminal", autherr.ErrConfig, label)
	}
	fmt.Fprintf(out, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", fmt.Errorf("%w: %s is empty", autherr.ErrConfig, label)
	}
	return secret, nil
}

// WithPromptedClientSecret returns c with the OAuth 2.0 client secret filled
// in from the terminal when it is missing.
func (c Config) WithPromptedClientSecret(out io.Writer) (Config, error) {
	if c.OAuth2.ClientSecret != "" {
		return c, nil
	}
	secret, err := PromptSecret(out, EnvPrefix+"CLIENT_SECRET")
	if err != nil {
		return c, err
	}
	c.OAuth2.ClientSecret = secret
	return c, nil
}
