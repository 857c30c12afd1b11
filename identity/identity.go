// Package identity persists the public key that work is credited to.
package identity

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

const DefaultPath = "PubKey.txt"

var ErrNoIdentity = errors.New("identity: no public key")

// Load reads the key stored at path.
func Load(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("identity: read %s: %w", path, err)
	}

	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", fmt.Errorf("%w in %s", ErrNoIdentity, path)
	}

	return key, nil
}

// Store writes key to path, replacing any previous key.
func Store(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoIdentity
	}

	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}

	return nil
}

// Ensure returns the key at path. When the file does not exist the key is
// read from in after prompting on out, then stored.
func Ensure(path string, in io.Reader, out io.Writer) (string, error) {
	key, err := Load(path)
	if err == nil {
		return key, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if _, err := fmt.Fprintln(out, "Enter your solana public key: "); err != nil {
		return "", fmt.Errorf("identity: prompt: %w", err)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("identity: read key: %w", err)
	}

	key = strings.TrimSpace(line)
	if err := Store(path, key); err != nil {
		return "", err
	}

	return key, nil
}
