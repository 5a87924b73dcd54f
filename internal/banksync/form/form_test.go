package form

import (
	"errors"
	"net/url"
	"testing"

	"banksync/lib/htmlutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const loginPage = `
<html><body>
<form action="/search" method="get">
	<input type="text" name="q" value="">
	<input type="submit" name="go" value="Suchen">
</form>
<form action="/de/home.html;jsessionid=x?login" method="post">
	<input type="hidden" name="a8f1c" value="tok-123">
	<label for="u1">Anmeldename</label>
	<input type="text" id="u1" name="x91b2" value="">
	<label>PIN <input type="password" name="k22ad"></label>
	<input type="checkbox" name="remember">
	<input type="submit" name="b7f00" value="Anmelden">
	<input type="submit" name="b7f01" value="Zugangsdaten vergessen">
</form>
</body></html>`

const searchPage = `
<html><body>
<form action="umsaetze.html" method="post">
	<input type="hidden" name="f1" value="0">
	<input type="hidden" name="csrf" value="abc">
	<select name="acc">
		<option value="">Bitte wählen</option>
		<option value="DE01">Girokonto</option>
		<option value="DE02" selected>Sparkonto</option>
	</select>
	<input type="text" name="d1" placeholder="TT.MM.JJJJ" value="01.12.2023">
	<input type="text" name="d2" placeholder="TT.MM.JJJJ" value="31.12.2023">
	<input type="submit" name="s1" value="Aktualisieren">
	<input type="submit" name="s2" value="Drucken">
	<input type="reset" name="r" value="Zurücksetzen">
	<textarea name="note">keep me</textarea>
</form>
<form action="/logout"><input type="submit" name="lo" value="Abmelden"></form>
</body></html>`

func parse(t testing.TB, body string, base string) []Form {
	doc, err := htmlutil.ParseDocument([]byte(body))
	require.NoError(t, err)
	baseUrl, err := url.Parse(base)
	require.NoError(t, err)
	return Parse(doc, baseUrl)
}

func TestParse(t *testing.T) {
	forms := parse(t, searchPage, "https://bank.example/de/home/onlinebanking/umsaetze/umsaetze.html?n=true")
	require.Len(t, forms, 2)

	search := forms[0]
	require.Equal(t, "POST", search.Method)
	require.Equal(t, "https://bank.example/de/home/onlinebanking/umsaetze/umsaetze.html", search.Action.String())
	require.Len(t, search.Inputs, 8, "reset inputs are not part of the form")

	sel := search.Inputs[2]
	require.Equal(t, "select", sel.Tag)
	require.Equal(t, []string{"", "DE01", "DE02"}, sel.Options)
	require.Equal(t, "DE02", sel.Value)
	require.Equal(t, "keep me", search.Inputs[7].Value)

	// forms without a method submit with POST, matching how the portals expect it
	require.Equal(t, "POST", forms[1].Method)
	require.Equal(t, "https://bank.example/logout", forms[1].Action.String())
}

func TestLocate(t *testing.T) {
	forms := parse(t, loginPage, "https://bank.example/de/home.html")

	login, err := Locate(forms, "Anmelden")
	require.NoError(t, err)
	require.Equal(t, "https://bank.example/de/home.html;jsessionid=x?login", login.Action.String())

	search, err := Locate(forms, "Suchen")
	require.NoError(t, err)
	require.Equal(t, "GET", search.Method)

	_, err = Locate(forms, "Abmelden")
	require.True(t, errors.Is(err, ErrFormNotFound))

	found, marker, err := LocateAny(forms, []string{"CSV-CAMT-Format", "Anmelden"})
	require.NoError(t, err)
	require.Equal(t, "Anmelden", marker)
	require.Equal(t, login.Action, found.Action)

	_, _, err = LocateAny(forms, []string{"CSV-CAMT-Format", "CSV-Format"})
	require.True(t, errors.Is(err, ErrFormNotFound))
}

func TestFillLogin(t *testing.T) {
	login, err := Locate(parse(t, loginPage, "https://bank.example/de/home.html"), "Anmelden")
	require.NoError(t, err)

	req, err := Fill(login, Intent{
		Marker: "Anmelden",
		Assignments: Assignments{
			Identifier:       "user1",
			IdentifierLabels: []string{"Anmeldename"},
			Secret:           []byte("s3cret"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "POST", req.Method)

	expected := url.Values{
		"a8f1c": {"tok-123"},
		"x91b2": {"user1"},
		"k22ad": {"s3cret"},
		"b7f00": {"Anmelden"},
	}
	if diff := cmp.Diff(expected, req.Values); diff != "" {
		t.Fatal("unexpected login values (-want +got)\n", diff)
	}

	redacted := req.Redacted()
	require.Equal(t, "...", redacted["k22ad"])
	require.Len(t, redacted, 4)
}

func TestFillLoginMissingIdentifier(t *testing.T) {
	login, err := Locate(parse(t, loginPage, "https://bank.example/"), "Anmelden")
	require.NoError(t, err)

	_, err = Fill(login, Intent{
		Marker: "Anmelden",
		Assignments: Assignments{
			Identifier:       "user1",
			IdentifierLabels: []string{"Benutzername"},
			Secret:           []byte("s3cret"),
		},
	})
	require.True(t, errors.Is(err, ErrRequiredFieldMissing))
}

func TestFillSearch(t *testing.T) {
	search, err := Locate(parse(t, searchPage, "https://bank.example/umsaetze.html"), "Aktualisieren")
	require.NoError(t, err)

	account := 0
	req, err := Fill(search, Intent{
		Marker: "Aktualisieren",
		Assignments: Assignments{
			AccountIndex:    &account,
			DatePlaceholder: "TT.MM.JJJJ",
			DateFrom:        "01.01.2024",
			DateTo:          "31.01.2024",
			ResubmitFalsy:   "0",
			ResubmitTruthy:  "1",
		},
	})
	require.NoError(t, err)

	expected := url.Values{
		"f1":   {"1"},
		"csrf": {"abc"},
		"acc":  {"DE01"},
		"d1":   {"01.01.2024"},
		"d2":   {"31.01.2024"},
		"s1":   {"Aktualisieren"},
		"note": {"keep me"},
	}
	if diff := cmp.Diff(expected, req.Values); diff != "" {
		t.Fatal("unexpected search values (-want +got)\n", diff)
	}
}

func TestFillSearchErrors(t *testing.T) {
	search, err := Locate(parse(t, searchPage, "https://bank.example/"), "Aktualisieren")
	require.NoError(t, err)

	account := 2
	_, err = Fill(search, Intent{
		Marker:      "Aktualisieren",
		Assignments: Assignments{AccountIndex: &account},
	})
	require.True(t, errors.Is(err, ErrOptionOutOfRange))

	single := `<form><input placeholder="TT.MM.JJJJ" name="d1"><input type="submit" value="Aktualisieren"></form>`
	f, err := Locate(parse(t, single, "https://bank.example/"), "Aktualisieren")
	require.NoError(t, err)
	_, err = Fill(f, Intent{
		Marker: "Aktualisieren",
		Assignments: Assignments{
			DatePlaceholder: "TT.MM.JJJJ",
			DateFrom:        "01.01.2024",
			DateTo:          "31.01.2024",
		},
	})
	require.True(t, errors.Is(err, ErrRequiredFieldMissing))
}

func TestFillExportKeepsOnlyChosenSubmit(t *testing.T) {
	page := `
	<form action="/export">
		<input type="hidden" name="h" value="0">
		<input type="submit" name="pdf" value="PDF">
		<input type="submit" name="csv" value="CSV-Format">
		<input type="submit" name="camt" value="CSV-CAMT-Format">
	</form>`
	forms := parse(t, page, "https://bank.example/")
	f, marker, err := LocateAny(forms, []string{"CSV-CAMT-Format", "CSV-Format"})
	require.NoError(t, err)
	require.Equal(t, "CSV-CAMT-Format", marker)

	req, err := Fill(f, Intent{
		Marker:      marker,
		Assignments: Assignments{ResubmitFalsy: "0", ResubmitTruthy: "1"},
	})
	require.NoError(t, err)
	require.Equal(t, url.Values{"h": {"1"}, "camt": {"CSV-CAMT-Format"}}, req.Values)
}
