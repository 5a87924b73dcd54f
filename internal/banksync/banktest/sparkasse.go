// Package banktest provides in-process fakes of the supported bank portals.
package banktest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Sparkasse imitates the html portal of a savings bank.
type Sparkasse struct {
	t testing.TB

	// Password logs in, "locked" and "tan" redirect to the respective pages, anything
	// else is rejected.
	Password string
	// Search decides the result page: "empty", "tan", "nolink" or "export".
	Search string
	// ExportTarget is where the export form redirects to.
	ExportTarget string

	lock     sync.Mutex
	searches []map[string]string
	listings int
	logouts  int
}

const logoutForm = `<form action="/de/logout" method="post"><input type="hidden" name="t" value="x"><input type="submit" name="lo" value="Abmelden"></form>`

// SparkasseExport is the file served by the download service, windows-1252 encoded.
const SparkasseExport = "Buchungstag;Betrag;Beguenstigter\n01.01.2024;-1,00;M\xfcller\n"

func NewSparkasse(t testing.TB) *Sparkasse {
	return &Sparkasse{t: t, Password: "pw", Search: "export", ExportTarget: "/services/download?file=umsaetze.csv"}
}

// Searches returns the submitted search forms.
func (f *Sparkasse) Searches() []map[string]string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]map[string]string(nil), f.searches...)
}

// AccountListings counts requests of the account overview.
func (f *Sparkasse) AccountListings() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.listings
}

func (f *Sparkasse) Logouts() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.logouts
}

// Serve starts the fake, the caller closes the server.
func (f *Sparkasse) Serve() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /de/home.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<form action="/de/home.html?login" method="post">
	<input type="hidden" name="a8f1c" value="tok-123">
	<label for="u1">Anmeldename</label>
	<input type="text" id="u1" name="x91b2" value="">
	<label>PIN <input type="password" name="k22ad"></label>
	<input type="submit" name="b7f00" value="Anmelden">
	<input type="submit" name="b7f01" value="Zugangsdaten vergessen">
</form></body></html>`)
	})

	mux.HandleFunc("POST /de/home.html", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("x91b2") != "user1" || r.PostForm.Get("a8f1c") != "tok-123" {
			fmt.Fprint(w, `<html><div class="msgerror">Fehlermeldung: Anmeldename unbekannt</div></html>`)
			return
		}
		switch r.PostForm.Get("k22ad") {
		case "locked":
			http.Redirect(w, r, "/de/home/pin-sperre-aufheben.html", http.StatusFound)
		case "tan":
			http.Redirect(w, r, "/de/home/sca-legitimation.html", http.StatusFound)
		case f.Password:
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "s1", Path: "/"})
			http.Redirect(w, r, "/de/home/finanzstatus.html", http.StatusFound)
		default:
			fmt.Fprint(w, `<html><div class="msgerror">Fehlermeldung: PIN falsch</div></html>`)
		}
	})

	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "<html><body>%s%s</body></html>", body, logoutForm)
		}
	}
	mux.HandleFunc("GET /de/home/finanzstatus.html", page("Finanzstatus"))
	mux.HandleFunc("GET /de/home/pin-sperre-aufheben.html", page("Gesperrt"))
	mux.HandleFunc("GET /de/home/sca-legitimation.html", page("TAN"))

	mux.HandleFunc("GET /de/home/onlinebanking/umsaetze/umsaetze.html", func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("JSESSIONID"); err != nil || cookie.Value != "s1" {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		page(`<form action="umsaetze.html" method="post">
	<input type="hidden" name="f1" value="0">
	<select name="acc">
		<option value="">Bitte wählen</option>
		<option value="DE01">Girokonto</option>
		<option value="DE02">Sparkonto</option>
	</select>
	<input type="text" name="d1" placeholder="TT.MM.JJJJ" value="">
	<input type="text" name="d2" placeholder="TT.MM.JJJJ" value="">
	<input type="submit" name="s1" value="Aktualisieren">
	<input type="submit" name="s2" value="Drucken">
</form>`)(w, r)
	})

	mux.HandleFunc("POST /de/home/onlinebanking/umsaetze/umsaetze.html", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		values := map[string]string{}
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}
		f.lock.Lock()
		f.searches = append(f.searches, values)
		f.lock.Unlock()

		switch f.Search {
		case "empty":
			page(`<p>Keine Umsätze vorhanden.</p>`)(w, r)
		case "tan":
			http.Redirect(w, r, "/de/home/sca-legitimation.html", http.StatusFound)
		case "nolink":
			page(`<form action="/de/export" method="post"><input type="submit" name="x" value="CSV-Format"></form>`)(w, r)
		default:
			page(`<table><tr><td>01.01.2024</td></tr></table>
<form action="/de/export" method="post">
	<input type="hidden" name="e1" value="0">
	<input type="submit" name="pdf" value="PDF">
	<input type="submit" name="camt" value="CSV-CAMT-Format">
</form>`)(w, r)
		}
	})

	accounts := page(`<ul>
	<li><a class="konto" href="/de/konto/DE01">Girokonto</a></li>
	<li><a class="konto" href="/de/konto/DE02">Sparkonto</a></li>
</ul>`)
	mux.HandleFunc("GET /de/konten.html", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.listings++
		f.lock.Unlock()
		accounts(w, r)
	})

	mux.HandleFunc("GET /de/konto/{iban}", func(w http.ResponseWriter, r *http.Request) {
		page(fmt.Sprintf(`<form action="/de/home/onlinebanking/umsaetze/umsaetze.html" method="post">
	<input type="hidden" name="acc" value="%s">
	<input type="text" name="d1" placeholder="TT.MM.JJJJ" value="">
	<input type="text" name="d2" placeholder="TT.MM.JJJJ" value="">
	<input type="submit" name="s1" value="Aktualisieren">
</form>`, r.PathValue("iban")))(w, r)
	})

	mux.HandleFunc("POST /de/export", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if f.Search == "nolink" {
			page(`<div class="msgerror">Fehlermeldung: Export derzeit nicht möglich</div>`)(w, r)
			return
		}
		if r.PostForm.Get("camt") != "CSV-CAMT-Format" || r.PostForm.Get("e1") != "1" || r.PostForm.Has("pdf") {
			http.Error(w, "bad export form", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, f.ExportTarget, http.StatusFound)
	})

	mux.HandleFunc("GET /services/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=windows-1252")
		w.Write([]byte(SparkasseExport))
	})

	mux.HandleFunc("POST /de/logout", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.logouts++
		f.lock.Unlock()
		fmt.Fprint(w, "<html>Abgemeldet</html>")
	})

	return httptest.NewServer(mux)
}
