package protocol

import (
	"banksync/internal/banksync/classify"
	"banksync/internal/banksync/failure"
)

const (
	reasonAuthenticated = "authenticated"
	reasonExportReady   = "export_ready"
	reasonNoResults     = "no_results"
	reasonBadGrant      = "bad_credentials"
)

// sparkasseFamily builds the descriptor shared by the savings bank portals, which run
// the same software with differing export captions and pacing.
func sparkasseFamily(id, name string, exportLabels []string, throttle Throttle, strictLogin bool) Descriptor {
	loginRules := []classify.Rule{
		{Source: classify.SourceURL, Contains: "finanzstatus.html", Kind: classify.KindSuccess, Reason: reasonAuthenticated},
	}
	if strictLogin {
		loginRules = append(loginRules,
			classify.Rule{Source: classify.SourceURL, Contains: "pin-sperre-aufheben.html", Kind: classify.KindFatal, Reason: failure.ReasonLocked},
			classify.Rule{Source: classify.SourceURL, Contains: "sca-legitimation.html", Kind: classify.KindFatal, Reason: failure.ReasonManualTanRequired},
		)
	}

	searchRules := []classify.Rule{
		{Source: classify.SourceURL, Contains: "sca-legitimation.html", Kind: classify.KindFatal, Reason: failure.ReasonManualTanRequired},
		{Source: classify.SourceBody, Contains: "Keine Umsätze vorhanden", Kind: classify.KindEmpty, Reason: reasonNoResults},
	}
	for _, label := range exportLabels {
		searchRules = append(searchRules, classify.Rule{
			Source: classify.SourceBody, Contains: label, Kind: classify.KindSuccess, Reason: reasonExportReady,
		})
	}

	errorText := classify.Table{
		ErrorSelector: ".msgerror",
		ErrorPrefixes: []string{"Fehlermeldung:"},
	}

	login := errorText
	login.Version = id + "-login/1"
	login.Rules = loginRules
	search := errorText
	search.Version = id + "-search/1"
	search.Rules = searchRules

	return Descriptor{
		Id:       id,
		Name:     name,
		Version:  "1",
		Variant:  VariantForm,
		Throttle: throttle,
		Form: &FormProtocol{
			HomePath:          "/de/home.html",
			LoginMarker:       "Anmelden",
			IdentifierLabels:  []string{"Anmeldename"},
			LabelSimilarity:   0.9,
			LoginExpectations: login,

			Layout:           LayoutCombined,
			TransactionsPath: "/de/home/onlinebanking/umsaetze/umsaetze.html?n=true&stref=hnav",

			SearchMarker:       "Aktualisieren",
			DatePlaceholder:    "TT.MM.JJJJ",
			DateLayout:         "02.01.2006",
			ResubmitFalsy:      "0",
			ResubmitTruthy:     "1",
			SearchExpectations: search,

			ExportLabels:     exportLabels,
			DownloadFragment: "services/download?",
			LogoutMarker:     "Abmelden",
			SourceEncoding:   "windows-1252",
		},
	}
}

func dkb() Descriptor {
	return Descriptor{
		Id:       "dkb",
		Name:     "Deutsche Kreditbank",
		Version:  "1",
		Variant:  VariantAPI,
		BaseURL:  "https://banking.dkb.de/api",
		Throttle: Throttle{MinMs: 500, MaxMs: 1000},
		API: &APIProtocol{
			SessionPath: "/session",
			XSRFCookie:  "__Host-xsrf",
			XSRFHeader:  "x-xsrf-token",

			TokenPath:  "/token",
			LoginGrant: "banking_user_sca",
			ScaType:    "web-login",
			MFAGrant:   "banking_user_mfa",
			TokenExpectations: classify.Table{
				Version:           "dkb-token/1",
				MatchClientErrors: true,
				Rules: []classify.Rule{
					{Source: classify.SourceBody, Contains: `"access_token"`, Kind: classify.KindSuccess, Reason: reasonAuthenticated},
					{Source: classify.SourceBody, Contains: "invalid_grant", Kind: classify.KindFatal, Reason: reasonBadGrant},
				},
			},

			MethodsPath:          "/mfa/mfa/%s/methods?filter%%5BmethodType%%5D=seal_one",
			ChallengesPath:       "/mfa/mfa/challenges",
			ChallengePath:        "/mfa/mfa/challenges/%s",
			ChallengeMethod:      "seal_one",
			ChallengeContentType: "application/vnd.api+json",
			PollIntervalMs:       3000,
			PollBudgetMs:         60000,

			AccountsPath:     "/accounts/accounts",
			TransactionsPath: "/accounts/accounts/%s/transactions?expand=Merchant",
			RevokePath:       "/revoke",
		},
	}
}

// Builtin returns fresh copies of the descriptors shipped with the binary.
func Builtin() map[string]Descriptor {
	return map[string]Descriptor{
		"sparkasse": sparkasseFamily(
			"sparkasse", "Sparkasse",
			[]string{"CSV-CAMT-Format", "CSV-Format"},
			Throttle{MinMs: 1000, MaxMs: 2500},
			true,
		),
		"kskmse": sparkasseFamily(
			"kskmse", "KSK MSE",
			[]string{"CSV-CAMT-Format"},
			Throttle{MinMs: 2000, MaxMs: 4000},
			false,
		),
		"dkb": dkb(),
	}
}
