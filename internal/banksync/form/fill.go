package form

import (
	"errors"
	"fmt"
	"net/url"

	"banksync/lib/textutil"
)

var (
	ErrFormNotFound         = errors.New("form not found")
	ErrRequiredFieldMissing = errors.New("required field missing")
	ErrOptionOutOfRange     = errors.New("selector option out of range")
)

// Assignments describe how the fields of a located form are populated. Zero values
// disable the corresponding rule.
type Assignments struct {
	Identifier       string
	IdentifierLabels []string
	// LabelSimilarity is the Jaro-Winkler threshold used when no identifier label
	// matches exactly, <= 0 means exact (normalized) matches only.
	LabelSimilarity float64
	Secret          []byte

	// AccountIndex selects option 1+AccountIndex of a selector, the leading option is
	// a non-selectable placeholder.
	AccountIndex *int

	DatePlaceholder string
	DateFrom        string
	DateTo          string

	// ResubmitFalsy is flipped to ResubmitTruthy so the server accepts the submission
	// as resubmitted.
	ResubmitFalsy  string
	ResubmitTruthy string
}

func (a Assignments) login() bool {
	return a.Identifier != "" || a.Secret != nil
}

// Intent picks a form by Marker and populates it with Assignments.
type Intent struct {
	Marker      string
	Assignments Assignments
}

// Request is a submittable form.
type Request struct {
	Method string
	URL    *url.URL
	Values url.Values
}

// Redacted returns the submitted values with every non-empty value masked, it is meant
// for debug logging.
func (r Request) Redacted() map[string]string {
	out := make(map[string]string, len(r.Values))
	for k, vals := range r.Values {
		masked := ""
		for _, v := range vals {
			if v != "" {
				masked = "..."
			}
		}
		out[k] = masked
	}
	return out
}

// Locate returns the first form that has a field whose current value equals marker.
func Locate(forms []Form, marker string) (Form, error) {
	for _, f := range forms {
		if f.HasValue(marker) {
			return f, nil
		}
	}
	return Form{}, fmt.Errorf("%w: no form with value %q", ErrFormNotFound, marker)
}

// LocateAny tries each marker in order and returns the first form found together with
// the marker that matched.
func LocateAny(forms []Form, markers []string) (Form, string, error) {
	for _, m := range markers {
		f, err := Locate(forms, m)
		if err == nil {
			return f, m, nil
		}
	}
	return Form{}, "", fmt.Errorf("%w: no form with any of the values %q", ErrFormNotFound, markers)
}

// Fill applies the intent to every input of the form, the first applicable rule wins:
//
//  1. label matches an identifier label => identifier
//  2. password input => secret
//  3. selector => option 1+account index
//  4. date placeholder => date from on the first occurrence, date to on the second
//  5. already-submitted marker with a falsy value => truthy value
//  6. submit whose value is not the marker => removed
//
// Inputs that match no rule pass through unchanged.
func Fill(f Form, intent Intent) (Request, error) {
	a := intent.Assignments

	var inputs []Input
	foundIdentifier := false
	foundSecret := false
	datesFound := 0

	for _, in := range f.Inputs {
		switch {
		case a.Identifier != "" && in.Tag == "input" && !in.IsSubmit() &&
			textutil.MatchLabel(in.Label, a.IdentifierLabels, a.LabelSimilarity):
			in.Value = a.Identifier
			foundIdentifier = true

		case a.Secret != nil && in.Type == "password":
			in.Value = string(a.Secret)
			foundSecret = true

		case a.AccountIndex != nil && in.Tag == "select":
			option := 1 + *a.AccountIndex
			if *a.AccountIndex < 0 || option >= len(in.Options) {
				return Request{}, fmt.Errorf(
					"%w: account index %d, selector %q has %d options",
					ErrOptionOutOfRange, *a.AccountIndex, in.Name, len(in.Options),
				)
			}
			in.Value = in.Options[option]

		case a.DatePlaceholder != "" && in.Placeholder == a.DatePlaceholder:
			switch datesFound {
			case 0:
				in.Value = a.DateFrom
			case 1:
				in.Value = a.DateTo
			}
			datesFound++

		case a.ResubmitFalsy != "" && !in.IsSubmit() && in.Value == a.ResubmitFalsy:
			in.Value = a.ResubmitTruthy

		case in.IsSubmit() && in.Value != intent.Marker:
			continue
		}

		inputs = append(inputs, in)
	}

	if a.login() {
		if a.Identifier != "" && !foundIdentifier {
			return Request{}, fmt.Errorf("%w: identifier input labeled %q", ErrRequiredFieldMissing, a.IdentifierLabels)
		}
		if a.Secret != nil && !foundSecret {
			return Request{}, fmt.Errorf("%w: password input", ErrRequiredFieldMissing)
		}
	}
	if a.DatePlaceholder != "" && datesFound < 2 {
		return Request{}, fmt.Errorf(
			"%w: expected two date inputs with placeholder %q, found %d",
			ErrRequiredFieldMissing, a.DatePlaceholder, datesFound,
		)
	}

	filled := Form{Action: f.Action, Method: f.Method, Inputs: inputs}
	return Request{
		Method: f.Method,
		URL:    f.Action,
		Values: filled.Values(),
	}, nil
}
