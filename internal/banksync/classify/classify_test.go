package classify

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

var loginTable = Table{
	Version: "test-1",
	Rules: []Rule{
		{Source: SourceBody, Contains: "Willkommen", Kind: KindSuccess, Reason: "authenticated"},
		{Source: SourceURL, Contains: "finanzstatus.html", Kind: KindSuccess, Reason: "authenticated"},
		{Source: SourceURL, Contains: "pin-sperre-aufheben.html", Kind: KindFatal, Reason: "locked"},
		{Source: SourceURL, Contains: "sca-legitimation.html", Kind: KindFatal, Reason: "manual_tan_required"},
	},
	ErrorSelector:  ".msgerror",
	ErrorPrefixes:  []string{"Fehlermeldung:"},
	ErrorSeparator: " && ",
}

func mustUrl(t testing.TB, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		res      Response
		expected Outcome
	}{
		{
			name: "url signal",
			res: Response{
				StatusCode: 200,
				URL:        mustUrl(t, "https://bank.example/de/home/onlinebanking/finanzstatus.html"),
			},
			expected: Outcome{Kind: KindSuccess, Reason: "authenticated"},
		},
		{
			name: "url is checked before body",
			res: Response{
				StatusCode: 200,
				URL:        mustUrl(t, "https://bank.example/de/pin-sperre-aufheben.html"),
				Body:       []byte("<p>Willkommen</p>"),
			},
			expected: Outcome{Kind: KindFatal, Reason: "locked", Message: "Cause unknown!"},
		},
		{
			name: "body signal",
			res: Response{
				StatusCode: 200,
				URL:        mustUrl(t, "https://bank.example/de/start.html"),
				Body:       []byte("<p>Willkommen zurück</p>"),
			},
			expected: Outcome{Kind: KindSuccess, Reason: "authenticated"},
		},
		{
			name: "unknown with error text",
			res: Response{
				StatusCode: 200,
				URL:        mustUrl(t, "https://bank.example/de/home.html"),
				Body: []byte(`<div class="msgerror">Fehlermeldung: Die PIN ist falsch.</div>
					<div class="msgerror">Bitte versuchen Sie es erneut.</div>`),
			},
			expected: Outcome{
				Kind:    KindFatal,
				Reason:  "unknown",
				Message: "Die PIN ist falsch. && Bitte versuchen Sie es erneut.",
			},
		},
		{
			name: "unknown without error text",
			res: Response{
				StatusCode: 200,
				URL:        mustUrl(t, "https://bank.example/de/home.html"),
				Body:       []byte("<p>nothing</p>"),
			},
			expected: Outcome{Kind: KindFatal, Reason: "unknown", Message: "Cause unknown!"},
		},
		{
			name: "non-2xx status",
			res: Response{
				StatusCode: 503,
				URL:        mustUrl(t, "https://bank.example/de/finanzstatus.html"),
				Body:       []byte("<div class='msgerror'>Wartungsarbeiten</div>"),
			},
			expected: Outcome{Kind: KindFatal, Reason: "upstream_http", Message: "Wartungsarbeiten"},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, Classify(test.res, loginTable))
		})
	}
}

func TestExtractErrorTextWithoutSelector(t *testing.T) {
	res := Response{Body: []byte(`<div class="msgerror">x</div>`)}
	require.Equal(t, "Cause unknown!", ExtractErrorText(res.doc(), Table{}))
}

func TestClassifyClientErrors(t *testing.T) {
	table := Table{
		Version:           "token/1",
		MatchClientErrors: true,
		Rules: []Rule{
			{Source: SourceBody, Contains: "invalid_grant", Kind: KindFatal, Reason: "bad_credentials"},
		},
	}

	rejected := Response{StatusCode: 400, Body: []byte(`{"error":"invalid_grant"}`)}
	require.Equal(t, "bad_credentials", Classify(rejected, table).Reason)

	other := Response{StatusCode: 403, Body: []byte(`{"error":"forbidden"}`)}
	require.Equal(t, "upstream_http", Classify(other, table).Reason)

	server := Response{StatusCode: 500, Body: []byte(`{"error":"invalid_grant"}`)}
	require.Equal(t, "upstream_http", Classify(server, table).Reason)

	table.MatchClientErrors = false
	require.Equal(t, "upstream_http", Classify(rejected, table).Reason)
}

func TestStatus(t *testing.T) {
	require.True(t, Status(204).Ok())
	require.Equal(t, Outcome{Kind: KindFatal, Reason: "upstream_http"}, Status(404))
}
