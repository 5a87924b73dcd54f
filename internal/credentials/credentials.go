// Package credentials collects the identifier and secret of a run from the environment,
// a terminal prompt or piped input, in that order of precedence.
package credentials

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"banksync/internal/banksync/engine"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/term"
)

const EnvPrefix = "banksync"

type env struct {
	Identifier string `envconfig:"IDENTIFIER"`
	Secret     string `envconfig:"SECRET"`
}

// Terminal abstracts the secret prompt, the standard implementation disables echo.
type Terminal interface {
	IsTerminal() bool
	ReadPassword() ([]byte, error)
}

type stdTerminal struct {
	fd int
}

func (t stdTerminal) IsTerminal() bool {
	return term.IsTerminal(t.fd)
}

func (t stdTerminal) ReadPassword() ([]byte, error) {
	return term.ReadPassword(t.fd)
}

type Source struct {
	// DotEnv is an optional .env file loaded before the environment is read. Variables
	// already present in the environment win.
	DotEnv   string
	In       io.Reader
	Prompt   io.Writer
	Terminal Terminal

	reader *bufio.Reader
}

// Stdin reads from the process' standard input and prompts on standard error.
func Stdin(dotenv string) *Source {
	return &Source{
		DotEnv:   dotenv,
		In:       os.Stdin,
		Prompt:   os.Stderr,
		Terminal: stdTerminal{fd: int(os.Stdin.Fd())},
	}
}

func (s *Source) line() (string, error) {
	if s.reader == nil {
		s.reader = bufio.NewReader(s.In)
	}
	text, err := s.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && text != "") {
		return "", err
	}
	return strings.TrimRight(text, "\r\n"), nil
}

// Read returns the credentials of a run. identifier, when not empty, takes precedence
// over every other source of the identifier.
func (s *Source) Read(identifier string) (*engine.Credentials, error) {
	if s.DotEnv != "" {
		err := godotenv.Load(s.DotEnv)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", s.DotEnv, err)
		}
	}

	var fromEnv env
	err := envconfig.Process(EnvPrefix, &fromEnv)
	if err != nil {
		return nil, fmt.Errorf("read credentials from environment: %w", err)
	}

	if identifier == "" {
		identifier = fromEnv.Identifier
	}
	if identifier == "" {
		fmt.Fprint(s.Prompt, "Identifier: ")
		identifier, err = s.line()
		if err != nil {
			return nil, fmt.Errorf("read identifier: %w", err)
		}
		identifier = strings.TrimSpace(identifier)
	}
	if identifier == "" {
		return nil, fmt.Errorf("no identifier given")
	}

	secret := []byte(fromEnv.Secret)
	if len(secret) == 0 {
		secret, err = s.secret()
		if err != nil {
			return nil, err
		}
	}

	return &engine.Credentials{Identifier: identifier, Secret: secret}, nil
}

func (s *Source) secret() ([]byte, error) {
	if s.Terminal != nil && s.Terminal.IsTerminal() {
		for {
			fmt.Fprint(s.Prompt, "Secret: ")
			secret, err := s.Terminal.ReadPassword()
			fmt.Fprintln(s.Prompt)
			if err != nil {
				return nil, fmt.Errorf("read secret: %w", err)
			}
			if len(bytes.TrimSpace(secret)) > 0 {
				return secret, nil
			}
		}
	}

	text, err := s.line()
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	secret := []byte(strings.TrimSpace(text))
	if len(secret) == 0 {
		return nil, fmt.Errorf("no secret given")
	}
	return secret, nil
}
