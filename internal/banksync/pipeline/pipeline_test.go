package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"banksync/internal/banksync/banktest"
	"banksync/internal/banksync/engine"
	"banksync/internal/banksync/failure"
	"banksync/internal/banksync/normalize"
	"banksync/internal/banksync/protocol"
	"banksync/internal/components/chrono"
	"banksync/internal/components/telemetry"
	"banksync/internal/journal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func january(account int) engine.ExportScope {
	return engine.ExportScope{
		AccountIndex: account,
		From:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:           time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func creds(secret string) *engine.Credentials {
	return &engine.Credentials{Identifier: "user1", Secret: []byte(secret)}
}

type harness struct {
	driver  Driver
	stdout  *bytes.Buffer
	journal *journal.Journal
}

func newHarness(t *testing.T, bank, baseUrl string) harness {
	clock := chrono.NewFakeImpl(time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	tel := &telemetry.Recorder{}

	e, err := engine.New(protocol.Builtin()[bank], engine.Options{BaseURL: baseUrl, Clock: clock, Telemetry: tel})
	require.NoError(t, err)

	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	stdout := &bytes.Buffer{}
	driver := NewDriver(e, Options{Journal: j, Stdout: stdout, Clock: clock, Telemetry: tel})
	return harness{driver: driver, stdout: stdout, journal: j}
}

func TestEmptyResultWritesMarker(t *testing.T) {
	fake := banktest.NewSparkasse(t)
	fake.Search = "empty"
	server := fake.Serve()
	defer server.Close()

	h := newHarness(t, "sparkasse", server.URL)
	reports, err := h.driver.Run(context.Background(), creds("pw"), []Job{{Scope: january(0), Output: StdoutOutput}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, journal.OutcomeEmpty, reports[0].Outcome)
	assert.Equal(t, normalize.EmptyResultMarker, h.stdout.String())
	assert.Equal(t, 1, fake.Logouts())

	runs, err := h.journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "sparkasse", runs[0].Bank)
	assert.Equal(t, journal.OutcomeEmpty, runs[0].Outcome)
}

func TestRecordsWrittenAsCSV(t *testing.T) {
	fake := banktest.NewDKB(t, "processing", "processed")
	server := fake.Serve()
	defer server.Close()

	output := filepath.Join(t.TempDir(), "dkb.csv")
	h := newHarness(t, "dkb", server.URL+"/api")
	reports, err := h.driver.Run(context.Background(), creds("pw"), []Job{
		{Scope: january(1), Output: output},
		{Scope: january(0), Output: StdoutOutput},
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, journal.OutcomeExported, reports[0].Outcome)
	assert.Equal(t, 2, reports[0].Rows)
	assert.Equal(t, journal.OutcomeEmpty, reports[1].Outcome)

	contents, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(normalize.Columns, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "t1,booked,2024-01-03,"))
	assert.True(t, strings.HasPrefix(lines[2], "t2,booked,2024-01-05,"))
	assert.NotContains(t, string(contents), "t3")

	assert.Equal(t, normalize.EmptyResultMarker, h.stdout.String())
	assert.Equal(t, 1, fake.Revokes())

	runs, err := h.journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[1].Rows)
	assert.Equal(t, output, runs[1].Output)
}

func TestBankExportReencoded(t *testing.T) {
	fake := banktest.NewSparkasse(t)
	server := fake.Serve()
	defer server.Close()

	h := newHarness(t, "sparkasse", server.URL)
	_, err := h.driver.Run(context.Background(), creds("pw"), []Job{{Scope: january(0)}})
	require.NoError(t, err)
	assert.Equal(t, "Buchungstag;Betrag;Beguenstigter\n01.01.2024;-1,00;Müller\n", h.stdout.String())
}

func TestFirstFailureAborts(t *testing.T) {
	fake := banktest.NewSparkasse(t)
	fake.Search = "tan"
	server := fake.Serve()
	defer server.Close()

	h := newHarness(t, "sparkasse", server.URL)
	reports, err := h.driver.Run(context.Background(), creds("pw"), []Job{
		{Scope: january(0)},
		{Scope: january(1)},
	})
	require.ErrorIs(t, err, failure.ErrExportBlocked)
	require.Len(t, reports, 1)
	assert.Len(t, fake.Searches(), 1)
	assert.Empty(t, h.stdout.String())

	runs, err := h.journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.OutcomeFailed, runs[0].Outcome)
	assert.Equal(t, failure.KindExportBlocked.String(), runs[0].FailureKind)
}

func TestLoginFailureRecorded(t *testing.T) {
	fake := banktest.NewSparkasse(t)
	server := fake.Serve()
	defer server.Close()

	h := newHarness(t, "sparkasse", server.URL)
	reports, err := h.driver.Run(context.Background(), creds("wrong"), []Job{{Scope: january(0)}})
	require.ErrorIs(t, err, failure.ErrAuthenticationFailed)
	require.Len(t, reports, 1)

	runs, err := h.journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "PIN falsch", runs[0].Message)
}

func TestInvalidScopeRejectedBeforeLogin(t *testing.T) {
	fake := banktest.NewSparkasse(t)
	server := fake.Serve()
	defer server.Close()

	h := newHarness(t, "sparkasse", server.URL)
	inverted := january(0)
	inverted.From, inverted.To = inverted.To, inverted.From

	secret := []byte("pw")
	_, err := h.driver.Run(context.Background(), &engine.Credentials{Identifier: "user1", Secret: secret}, []Job{
		{Scope: january(0)},
		{Scope: inverted},
	})
	require.ErrorIs(t, err, failure.ErrScopeInvalid)
	assert.Equal(t, []byte{0, 0}, secret)
	assert.Zero(t, fake.Logouts())
	assert.Empty(t, fake.Searches())

	_, err = h.driver.Run(context.Background(), creds("pw"), nil)
	require.Error(t, err)
}
