package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mcpup/mcpup/internal/target"
)

// pickTarget presents the target menu and returns the chosen name.
func pickTarget() (string, error) {
	targets, err := target.Load()
	if err != nil {
		return "", err
	}
	options := make([]string, len(targets))
	byLabel := make(map[string]string, len(targets))
	for i, t := range targets {
		label := fmt.Sprintf("%s - %s", t.Name, t.Display)
		options[i] = label
		byLabel[label] = t.Name
	}
	picked, err := promptSelect(os.Stderr, "choose a server variant", options)
	if err != nil {
		return "", err
	}
	if name, ok := byLabel[picked]; ok {
		return name, nil
	}
	// Plain line fallback accepts the bare target name too.
	if _, err := target.Lookup(picked); err == nil {
		return picked, nil
	}
	return "", fmt.Errorf("unknown target: %s", picked)
}

func isInteractiveTerminal() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}

func promptSelect(w *os.File, label string, options []string) (string, error) {
	if len(options) == 0 {
		return "", errors.New("no options available")
	}
	if !isInteractiveTerminal() || !term.IsTerminal(int(os.Stdin.Fd())) {
		// Fall back to a plain line prompt when no TTY is available.
		fmt.Fprintf(w, "%s (one of: %s): ", label, strings.Join(options, ", "))
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	selected := 0
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", err
	}
	defer term.Restore(fd, oldState)

	// Hide cursor while selecting.
	fmt.Fprint(w, "\x1b[?25l")
	defer fmt.Fprint(w, "\x1b[?25h")

	printLine := func(s string) {
		// Raw mode does not translate '\n' to CRLF.
		fmt.Fprint(w, "\r"+s+"\r\n")
	}
	lines := len(options) + 1
	render := func() {
		printLine(label + " (use ↑/↓, Enter):")
		for i, opt := range options {
			prefix := "  "
			if i == selected {
				prefix = "> "
			}
			printLine(prefix + opt)
		}
	}
	clearMenu := func() {
		fmt.Fprintf(w, "\x1b[%dA\r\x1b[J", lines)
	}
	redraw := func() {
		clearMenu()
		render()
	}

	render()

	readByte := func() (byte, error) {
		var b [1]byte
		_, err := os.Stdin.Read(b[:])
		return b[0], err
	}
	for {
		b, err := readByte()
		if err != nil {
			return "", err
		}
		switch b {
		case '\r', '\n':
			clearMenu()
			printLine(label + ": " + options[selected])
			return options[selected], nil
		case 0x1b:
			b2, err := readByte()
			if err != nil {
				return "", err
			}
			if b2 != '[' {
				return "", errors.New("selection cancelled")
			}
			b3, err := readByte()
			if err != nil {
				return "", err
			}
			switch b3 {
			case 'A': // up
				if selected == 0 {
					selected = len(options) - 1
				} else {
					selected--
				}
				redraw()
			case 'B': // down
				selected = (selected + 1) % len(options)
				redraw()
			}
		case 'k', 'K':
			if selected == 0 {
				selected = len(options) - 1
			} else {
				selected--
			}
			redraw()
		case 'j', 'J':
			selected = (selected + 1) % len(options)
			redraw()
		case 'q', 'Q', 0x03:
			return "", errors.New("selection cancelled")
		}
	}
}
