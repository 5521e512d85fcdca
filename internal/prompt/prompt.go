// Package prompt collects missing configuration interactively. Collect is
// deterministic for a given input script and touches no files; persisting the
// answers is the caller's separate step, which keeps the question/answer loop
// testable without a filesystem.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mcpup/mcpup/internal/envfile"
	"github.com/mcpup/mcpup/internal/target"
)

// ErrInputClosed reports that stdin ended before a required answer arrived.
var ErrInputClosed = errors.New("input closed before value was provided")

type Collector struct {
	In  io.Reader
	Out io.Writer
	// ReadSecret reads one hidden line. Nil selects term.ReadPassword when
	// stdin is a TTY and a plain line read otherwise.
	ReadSecret func() (string, error)
	// Generate produces a random secret of the requested length. Nil selects
	// envfile.GenerateSecret.
	Generate func(length int) (string, error)

	reader *bufio.Reader
}

func New(in io.Reader, out io.Writer) *Collector {
	return &Collector{In: in, Out: out}
}

// Collect asks one question per declared input of the given requirements, in
// table order. Existing values become defaults: plain values are shown, secret
// values are kept on an empty answer without ever being echoed. A blank secret
// with no prior value is generated when the input declares a generate policy.
// Rejected answers are re-asked without losing earlier accepted answers.
func (c *Collector) Collect(reqs []target.Requirement, existing map[string]string) (map[string]string, error) {
	out := make(map[string]string)
	for i := range reqs {
		for _, in := range reqs[i].Inputs {
			value, err := c.ask(in, strings.TrimSpace(existing[in.Key]))
			if err != nil {
				return nil, fmt.Errorf("collect %s: %w", in.Key, err)
			}
			out[in.Key] = value
		}
	}
	return out, nil
}

func (c *Collector) ask(in target.InputSpec, existing string) (string, error) {
	validate := validator(in.Validate)
	for {
		var raw string
		var err error
		if in.Secret {
			raw, err = c.askSecret(in, existing != "")
		} else {
			raw, err = c.promptLine(in.Label, existing)
		}
		if err != nil {
			return "", err
		}

		value := stripOuterQuotes(strings.TrimSpace(raw))
		generated := false
		if value == "" && in.Secret {
			if existing != "" {
				return existing, nil
			}
			if in.Generate > 0 {
				value, err = c.generate(in.Generate)
				if err != nil {
					return "", err
				}
				generated = true
				fmt.Fprintf(c.Out, "generated a random value for %s\n", in.Key)
			}
		}

		if err := validate(value); err != nil {
			if generated {
				// A generated value failing its own policy is a table bug,
				// not something re-asking can fix.
				return "", fmt.Errorf("generated value rejected: %w", err)
			}
			fmt.Fprintf(c.Out, "invalid value: %v\n", err)
			continue
		}
		return value, nil
	}
}

func (c *Collector) askSecret(in target.InputSpec, haveExisting bool) (string, error) {
	label := in.Label
	if haveExisting {
		label += " (press Enter to keep the current value)"
	}
	fmt.Fprintf(c.Out, "%s: ", label)
	read := c.ReadSecret
	if read == nil {
		read = c.defaultReadSecret
	}
	v, err := read()
	fmt.Fprintln(c.Out)
	if err != nil {
		return "", err
	}
	return v, nil
}

func (c *Collector) promptLine(label, defaultValue string) (string, error) {
	for {
		if defaultValue != "" {
			fmt.Fprintf(c.Out, "%s [%s]: ", label, defaultValue)
		} else {
			fmt.Fprintf(c.Out, "%s: ", label)
		}
		line, err := c.bufreader().ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		value := strings.TrimSpace(line)
		if value == "" {
			value = defaultValue
		}
		if value != "" {
			return value, nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrInputClosed
		}
		fmt.Fprintln(c.Out, "value is required")
	}
}

func (c *Collector) defaultReadSecret() (string, error) {
	if f, ok := c.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := c.bufreader().ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Collector) generate(length int) (string, error) {
	gen := c.Generate
	if gen == nil {
		gen = envfile.GenerateSecret
	}
	return gen(length)
}

func (c *Collector) bufreader() *bufio.Reader {
	if c.reader == nil {
		c.reader = bufio.NewReader(c.In)
	}
	return c.reader
}

func validator(name string) func(string) error {
	switch name {
	case "phone":
		return validatePhone
	case "token":
		return validateToken
	case "nonempty", "":
		return validateNonEmpty
	default:
		return validateNonEmpty
	}
}

func validatePhone(v string) error {
	if len(v) < 8 || len(v) > 15 {
		return errors.New("expected 8-15 digits including country code")
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return errors.New("digits only, no + or spaces")
		}
	}
	return nil
}

func validateToken(v string) error {
	if len(v) < envfile.MinSecretLength {
		return fmt.Errorf("at least %d characters required", envfile.MinSecretLength)
	}
	if strings.ContainsAny(v, " \t") {
		return errors.New("whitespace is not allowed")
	}
	return nil
}

func validateNonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("value is required")
	}
	return nil
}

func stripOuterQuotes(value string) string {
	if len(value) >= 2 {
		if (value[0] == '\'' && value[len(value)-1] == '\'') || (value[0] == '"' && value[len(value)-1] == '"') {
			return strings.TrimSpace(value[1 : len(value)-1])
		}
	}
	return value
}
