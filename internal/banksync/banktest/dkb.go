package banktest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// DKBTransactions holds two booked records and one pending record.
const DKBTransactions = `{"data": [
	{"id": "t1", "attributes": {"status": "booked", "bookingDate": "2024-01-03", "valueDate": "2024-01-03",
		"amount": {"currencyCode": "EUR", "value": "-12.50"}, "description": "Coffee",
		"creditor": {"name": "Cafe", "creditorAccount": {"iban": "DE001"}}, "transactionType": "CARD"}},
	{"id": "t2", "attributes": {"status": "booked", "bookingDate": "2024-01-05", "valueDate": "2024-01-05",
		"amount": {"currencyCode": "EUR", "value": "1000.00"}, "description": "Salary",
		"debtor": {"name": "Employer", "debtorAccount": {"iban": "DE002"}}, "transactionType": "TRANSFER"}},
	{"id": "t3", "attributes": {"status": "pending", "bookingDate": "2024-01-06", "valueDate": "2024-01-06",
		"amount": {"currencyCode": "EUR", "value": "-3.00"}, "description": "Pending",
		"creditor": {"name": "Shop", "creditorAccount": {"iban": "DE003"}}, "transactionType": "CARD"}}
]}`

// DKB imitates the json api of a direct bank with an app based challenge.
type DKB struct {
	t testing.TB

	// Statuses are returned by consecutive challenge polls, the last one repeats.
	Statuses     []string
	Transactions string
	RevokeStatus int

	lock    sync.Mutex
	polls   int
	revokes int
}

func NewDKB(t testing.TB, statuses ...string) *DKB {
	return &DKB{t: t, Statuses: statuses, Transactions: DKBTransactions, RevokeStatus: http.StatusOK}
}

func (f *DKB) Polls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.polls
}

func (f *DKB) Revokes() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.revokes
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// Serve starts the fake under /api, the caller closes the server.
func (f *DKB) Serve() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "__Host-xsrf", Value: "xsrf-1", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-xsrf-token") != "xsrf-1" {
			writeJSON(w, http.StatusForbidden, `{"error":"xsrf"}`)
			return
		}
		r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case "banking_user_sca":
			if r.PostForm.Get("username") != "user1" || r.PostForm.Get("password") != "pw" {
				writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant"}`)
				return
			}
			assert.Equal(f.t, "web-login", r.PostForm.Get("sca_type"))
			writeJSON(w, http.StatusOK, `{"access_token":"at1","mfa_id":"m1"}`)
		case "banking_user_mfa":
			if r.PostForm.Get("mfa_id") != "m1" || r.PostForm.Get("access_token") != "at1" {
				writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"access_token":"at2"}`)
		default:
			writeJSON(w, http.StatusBadRequest, `{"error":"unsupported_grant_type"}`)
		}
	})

	mux.HandleFunc("GET /api/mfa/mfa/{mfa}/methods", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "m1", r.PathValue("mfa"))
		assert.Equal(f.t, "seal_one", r.URL.Query().Get("filter[methodType]"))
		writeJSON(w, http.StatusOK, `{"data":[{"id":"method-1","type":"mfa-method"}]}`)
	})

	mux.HandleFunc("POST /api/mfa/mfa/challenges", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "application/vnd.api+json", r.Header.Get("Content-Type"))
		var body struct {
			Data struct {
				Type       string            `json:"type"`
				Attributes map[string]string `json:"attributes"`
			} `json:"data"`
		}
		err := json.NewDecoder(r.Body).Decode(&body)
		assert.NoError(f.t, err)
		assert.Equal(f.t, "mfa-challenge", body.Data.Type)
		assert.Equal(f.t, map[string]string{"methodId": "method-1", "methodType": "seal_one", "mfaId": "m1"}, body.Data.Attributes)
		writeJSON(w, http.StatusCreated, `{"data":{"id":"c1","type":"mfa-challenge"}}`)
	})

	mux.HandleFunc("GET /api/mfa/mfa/challenges/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "c1", r.PathValue("id"))
		f.lock.Lock()
		status := f.Statuses[min(f.polls, len(f.Statuses)-1)]
		f.polls++
		f.lock.Unlock()
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"data":{"id":"c1","attributes":{"verificationStatus":%q}}}`, status))
	})

	mux.HandleFunc("GET /api/accounts/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[{"id":"acc-0"},{"id":"acc-1"}]}`)
	})

	mux.HandleFunc("GET /api/accounts/accounts/{id}/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Merchant", r.URL.Query().Get("expand"))
		if r.PathValue("id") != "acc-1" {
			writeJSON(w, http.StatusOK, `{"data":null}`)
			return
		}
		writeJSON(w, http.StatusOK, f.Transactions)
	})

	mux.HandleFunc("POST /api/revoke", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		assert.Equal(f.t, "no-token", r.PostForm.Get("token"))
		f.lock.Lock()
		f.revokes++
		f.lock.Unlock()
		writeJSON(w, f.RevokeStatus, `{}`)
	})

	return httptest.NewServer(mux)
}
