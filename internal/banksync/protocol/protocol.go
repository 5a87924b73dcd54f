// Package protocol describes the bank specific parts of a session as data: markers,
// url fragments, field rules and expectation tables. The engine owns the state
// machine, descriptors only parametrize it.
package protocol

import (
	"fmt"
	"time"

	"banksync/internal/banksync/classify"

	"github.com/go-playground/validator/v10"
)

type Variant string

const (
	// VariantAPI banks expose a json api with a discrete out-of-band challenge step.
	VariantAPI Variant = "api"
	// VariantForm banks render html forms and signal login state with redirects.
	VariantForm Variant = "form"
)

type Layout string

const (
	// LayoutCombined pages hold the account selector and the date range in one search form.
	LayoutCombined Layout = "combined"
	// LayoutNavigate banks list accounts as links, the search form of the linked page only
	// takes the date range.
	LayoutNavigate Layout = "navigate"
)

type Throttle struct {
	MinMs int64 `json:"min_ms" validate:"gte=0"`
	MaxMs int64 `json:"max_ms" validate:"gtefield=MinMs"`
}

func (t Throttle) Min() time.Duration { return time.Duration(t.MinMs) * time.Millisecond }
func (t Throttle) Max() time.Duration { return time.Duration(t.MaxMs) * time.Millisecond }

type FormProtocol struct {
	HomePath          string         `json:"home_path" validate:"required"`
	LoginMarker       string         `json:"login_marker" validate:"required"`
	IdentifierLabels  []string       `json:"identifier_labels" validate:"required,min=1"`
	LabelSimilarity   float64        `json:"label_similarity" validate:"gte=0,lte=1"`
	LoginExpectations classify.Table `json:"login_expectations"`

	Layout           Layout `json:"layout" validate:"oneof=combined navigate"`
	TransactionsPath string `json:"transactions_path"`
	// AccountsPath and AccountLinkSelector are only used by LayoutNavigate. Account links are
	// looked up on AccountsPath, or on TransactionsPath when it is empty.
	AccountsPath        string `json:"accounts_path"`
	AccountLinkSelector string `json:"account_link_selector"`

	SearchMarker       string         `json:"search_marker" validate:"required"`
	DatePlaceholder    string         `json:"date_placeholder" validate:"required"`
	DateLayout         string         `json:"date_layout" validate:"required"`
	ResubmitFalsy      string         `json:"resubmit_falsy"`
	ResubmitTruthy     string         `json:"resubmit_truthy"`
	SearchExpectations classify.Table `json:"search_expectations"`

	// ExportLabels are the accepted captions of the export action, banks vary them across
	// site revisions.
	ExportLabels     []string `json:"export_labels" validate:"required,min=1"`
	DownloadFragment string   `json:"download_fragment" validate:"required"`
	LogoutMarker     string   `json:"logout_marker"`
	SourceEncoding   string   `json:"source_encoding" validate:"required"`
}

type APIProtocol struct {
	SessionPath string `json:"session_path" validate:"required"`
	XSRFCookie  string `json:"xsrf_cookie"`
	XSRFHeader  string `json:"xsrf_header"`

	TokenPath         string         `json:"token_path" validate:"required"`
	LoginGrant        string         `json:"login_grant" validate:"required"`
	ScaType           string         `json:"sca_type"`
	MFAGrant          string         `json:"mfa_grant" validate:"required"`
	TokenExpectations classify.Table `json:"token_expectations"`

	// MethodsPath and ChallengePath are fmt templates taking the mfa id and the
	// challenge id respectively.
	MethodsPath          string `json:"methods_path" validate:"required"`
	ChallengesPath       string `json:"challenges_path" validate:"required"`
	ChallengePath        string `json:"challenge_path" validate:"required"`
	ChallengeMethod      string `json:"challenge_method" validate:"required"`
	ChallengeContentType string `json:"challenge_content_type"`
	PollIntervalMs       int64  `json:"poll_interval_ms" validate:"gt=0"`
	PollBudgetMs         int64  `json:"poll_budget_ms" validate:"gtefield=PollIntervalMs"`

	AccountsPath string `json:"accounts_path" validate:"required"`
	// TransactionsPath is a fmt template taking the account id.
	TransactionsPath string `json:"transactions_path" validate:"required"`
	RevokePath       string `json:"revoke_path"`
}

func (a APIProtocol) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// PollAttempts is the maximum number of challenge polls, the budget divided by the
// interval.
func (a APIProtocol) PollAttempts() int {
	return int(a.PollBudgetMs / a.PollIntervalMs)
}

type Descriptor struct {
	Id      string  `json:"id" validate:"required"`
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Variant Variant `json:"variant" validate:"oneof=api form"`
	// BaseURL is fixed for banks with a single portal, empty for institutions that
	// each run their own portal (the url is then supplied by the caller).
	BaseURL  string   `json:"base_url"`
	Throttle Throttle `json:"throttle"`

	Form *FormProtocol `json:"form,omitempty" validate:"required_if=Variant form"`
	API  *APIProtocol  `json:"api,omitempty" validate:"required_if=Variant api"`
}

// HasChallenge reports whether authentication includes a discrete challenge step.
func (d Descriptor) HasChallenge() bool {
	return d.Variant == VariantAPI
}

var validate = validator.New()

func (d Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid protocol descriptor %q: %w", d.Id, err)
	}
	if d.Variant == VariantForm && d.Form.Layout == LayoutNavigate && d.Form.AccountLinkSelector == "" {
		return fmt.Errorf("invalid protocol descriptor %q: navigate layout requires account_link_selector", d.Id)
	}
	return nil
}
