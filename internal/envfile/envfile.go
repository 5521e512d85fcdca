// Package envfile reads and writes the KEY="value" configuration files the
// server variants consume (.env for the Python starters, .dev.vars for the
// workers). Writes are atomic: the file is staged next to its destination and
// renamed into place so an interrupted run never leaves a partial config.
package envfile

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MinSecretLength is the shortest secret value Write accepts for keys that
// carry generated tokens. Generated values always exceed it.
const MinSecretLength = 16

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Parse reads a KEY="value" file into a map. Blank lines and #-comments are
// ignored; quotes around values are optional. A missing file yields an empty
// map, not an error, because absence is an ordinary probe outcome.
func Parse(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		out[key] = unquote(val)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// Write persists values as sorted KEY="value" lines with 0600 permissions,
// replacing the destination atomically. Values may not contain newlines.
func Write(path string, values map[string]string) error {
	if len(values) == 0 {
		return errors.New("refusing to write empty config")
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# Generated by mcpup; secrets live here, never commit this file\n")
	for _, k := range keys {
		v := values[k]
		if strings.ContainsAny(v, "\n\r") {
			return fmt.Errorf("invalid value for %s (contains newline)", k)
		}
		fmt.Fprintf(&b, "%s=%q\n", k, v)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// WriteExample writes a placeholder template next to the real config so users
// can see the expected shape. An existing example file is left alone.
func WriteExample(path string, keys []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	lines := []string{"# Copy to " + strings.TrimSuffix(filepath.Base(path), ".example") + " and fill in real values"}
	for _, k := range keys {
		lines = append(lines, k+"=\"\"")
	}
	lines = append(lines, "")
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

// GenerateSecret returns a random alphanumeric value of the given length
// from crypto/rand. Lengths below MinSecretLength are raised to it.
func GenerateSecret(length int) (string, error) {
	if length < MinSecretLength {
		length = MinSecretLength
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
