package credentials

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTerminal struct {
	answers [][]byte
}

func (t *fakeTerminal) IsTerminal() bool { return true }

func (t *fakeTerminal) ReadPassword() ([]byte, error) {
	answer := t.answers[0]
	t.answers = t.answers[1:]
	return answer, nil
}

func clearEnv(t *testing.T) {
	t.Setenv("BANKSYNC_IDENTIFIER", "")
	t.Setenv("BANKSYNC_SECRET", "")
}

func TestReadPiped(t *testing.T) {
	clearEnv(t)
	prompt := &bytes.Buffer{}
	s := &Source{In: strings.NewReader("user1\n  pw \n"), Prompt: prompt}

	creds, err := s.Read("")
	require.NoError(t, err)
	assert.Equal(t, "user1", creds.Identifier)
	assert.Equal(t, []byte("pw"), creds.Secret)
	assert.Equal(t, "Identifier: ", prompt.String())
}

func TestReadFlagIdentifierAndTerminal(t *testing.T) {
	clearEnv(t)
	terminal := &fakeTerminal{answers: [][]byte{[]byte("  "), []byte("pw")}}
	prompt := &bytes.Buffer{}
	s := &Source{In: strings.NewReader(""), Prompt: prompt, Terminal: terminal}

	creds, err := s.Read("user1")
	require.NoError(t, err)
	assert.Equal(t, "user1", creds.Identifier)
	assert.Equal(t, []byte("pw"), creds.Secret)
	assert.Equal(t, 2, strings.Count(prompt.String(), "Secret: "))
}

func TestReadEnvironment(t *testing.T) {
	t.Setenv("BANKSYNC_IDENTIFIER", "envuser")
	t.Setenv("BANKSYNC_SECRET", "envpw")
	s := &Source{In: strings.NewReader(""), Prompt: &bytes.Buffer{}}

	creds, err := s.Read("")
	require.NoError(t, err)
	assert.Equal(t, "envuser", creds.Identifier)
	assert.Equal(t, []byte("envpw"), creds.Secret)

	creds, err = s.Read("flaguser")
	require.NoError(t, err)
	assert.Equal(t, "flaguser", creds.Identifier)
}

func TestReadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("BANKSYNC_IDENTIFIER")
	os.Unsetenv("BANKSYNC_SECRET")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BANKSYNC_IDENTIFIER=dotuser\nBANKSYNC_SECRET=dotpw\n"), 0600))
	t.Cleanup(func() {
		os.Unsetenv("BANKSYNC_IDENTIFIER")
		os.Unsetenv("BANKSYNC_SECRET")
	})

	s := &Source{DotEnv: path, In: strings.NewReader(""), Prompt: &bytes.Buffer{}}
	creds, err := s.Read("")
	require.NoError(t, err)
	assert.Equal(t, "dotuser", creds.Identifier)
	assert.Equal(t, []byte("dotpw"), creds.Secret)

	missing := &Source{DotEnv: filepath.Join(t.TempDir(), "none"), In: strings.NewReader("u\np\n"), Prompt: &bytes.Buffer{}}
	os.Unsetenv("BANKSYNC_IDENTIFIER")
	os.Unsetenv("BANKSYNC_SECRET")
	creds, err = missing.Read("")
	require.NoError(t, err)
	assert.Equal(t, "u", creds.Identifier)
}

func TestReadMissing(t *testing.T) {
	clearEnv(t)
	s := &Source{In: strings.NewReader(""), Prompt: &bytes.Buffer{}}
	_, err := s.Read("")
	require.Error(t, err)

	s = &Source{In: strings.NewReader("user1\n\n"), Prompt: &bytes.Buffer{}}
	_, err = s.Read("")
	require.Error(t, err)
}
