package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// PromptFunc reads a secret interactively after printing label.
type PromptFunc func(label string) (string, error)

// Source resolves a signing secret once, from an environment variable or an
// interactive prompt, and caches the outcome.
type Source struct {
	envVar string
	label  string
	lookup func(string) (string, bool)
	prompt PromptFunc

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting for label on the controlling
// terminal.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "secret"
	}
	return &Source{
		envVar: strings.TrimSpace(envVar),
		label:  label,
		lookup: os.LookupEnv,
		prompt: terminalPrompt,
	}
}

// WithPrompt replaces the terminal prompt.
func (s *Source) WithPrompt(p PromptFunc) *Source {
	if p != nil {
		s.prompt = p
	}
	return s
}

// Get returns the secret, resolving it on the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	value, err := s.prompt(s.label)
	if err != nil {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s: %w", s.label, s.envVar, err)
		}
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New(s.label + " cannot be empty")
	}
	return value, nil
}

var errNoTerminal = errors.New("no terminal available")

func terminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprintf(os.Stderr, "Enter %s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(raw), nil
}
