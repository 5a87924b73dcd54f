package restyutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskForm(t *testing.T) {
	masked := maskForm("username=user1&password=hunter2&empty=")
	assert.Equal(t, "empty=&password=...&username=...", masked)
}

func TestFormatHeadersMasksSecrets(t *testing.T) {
	headers := http.Header{}
	headers.Set("Cookie", "session=abc")
	headers.Set("X-Xsrf-Token", "tok")
	headers.Set("Accept", "text/html")

	formatted := formatHeaders(headers)
	assert.Equal(t, "Accept: text/html\nCookie: ...\nX-Xsrf-Token: ...", formatted)
}

func TestDumpToFilesystem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "dump")
	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	client := resty.New()
	InstrumentClient(client, nil, output)

	_, err = client.R().
		SetFormData(map[string]string{"password": "hunter2"}).
		Post(server.URL + "/login")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(dir, "0001.txt"))
	require.NoError(t, err)
	dump := string(contents)
	assert.True(t, strings.Contains(dump, "POST "+server.URL+"/login"))
	assert.True(t, strings.Contains(dump, "password=..."))
	assert.False(t, strings.Contains(dump, "hunter2"))
	assert.True(t, strings.Contains(dump, "<html>ok</html>"))
}

func TestMaskJSON(t *testing.T) {
	masked := maskJSON([]byte(`{"access_token":"at1","mfa_id":"m1","data":[{"refresh_token":"rt"}],"n":1.50}`))
	assert.JSONEq(t, `{"access_token":"...","mfa_id":"m1","data":[{"refresh_token":"..."}],"n":1.50}`, masked)
	assert.Equal(t, "<unparseable json body>", maskJSON([]byte("{")))
}

func TestDumpMasksTokenResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"secret-token","token_type":"bearer"}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	client := resty.New()
	InstrumentClient(client, nil, output)
	_, err = client.R().Post(server.URL + "/token")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(dir, "0001.txt"))
	require.NoError(t, err)
	dump := string(contents)
	assert.NotContains(t, dump, "secret-token")
	assert.Contains(t, dump, `"token_type":"bearer"`)
}
