// Package classify maps raw bank responses onto outcomes using nothing but string
// heuristics, since none of the supported portals expose a structured error protocol.
package classify

import (
	"bytes"
	"net/url"
	"strings"

	"banksync/internal/banksync/failure"
	"banksync/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

type Kind string

const (
	KindSuccess   Kind = "success"
	KindEmpty     Kind = "empty"
	KindRetryable Kind = "retryable"
	KindFatal     Kind = "fatal"
)

type Source string

const (
	SourceURL  Source = "url"
	SourceBody Source = "body"
)

// Rule maps a substring of the response url or body onto an outcome.
type Rule struct {
	Source   Source `json:"source"`
	Contains string `json:"contains"`
	Kind     Kind   `json:"kind"`
	Reason   string `json:"reason"`
}

// Table is a versioned expectation set. Url rules are always evaluated before body
// rules because a redirect target is authoritative evidence of a server side routing
// decision, within one source the declared order is kept.
type Table struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`

	// ErrorSelector selects error-styled elements whose text is used as the message
	// of an unrecognized response.
	ErrorSelector  string   `json:"error_selector"`
	ErrorPrefixes  []string `json:"error_prefixes"`
	ErrorSeparator string   `json:"error_separator"`

	// MatchClientErrors lets 4xx responses reach the rules, for endpoints that report
	// rejected input with a client error status. Unmatched 4xx are still upstream_http.
	MatchClientErrors bool `json:"match_client_errors"`
}

const (
	defaultErrorSeparator = " && "
	unknownCause          = "Cause unknown!"
)

type Outcome struct {
	Kind    Kind
	Reason  string
	Message string
}

func (o Outcome) Ok() bool {
	return o.Kind == KindSuccess
}

type Response struct {
	StatusCode int
	// URL is the final url after redirects.
	URL  *url.URL
	Body []byte
	// Doc is optional, it is parsed from Body when an error text has to be extracted.
	Doc *goquery.Document
}

func (r Response) url() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

func (r Response) doc() *goquery.Document {
	if r.Doc != nil {
		return r.Doc
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil
	}
	return doc
}

// Classify evaluates the response against the table. Anything that matches no rule is
// Fatal(unknown) with the best effort bank supplied error text attached.
func Classify(res Response, table Table) Outcome {
	failed := res.StatusCode != 0 && (res.StatusCode < 200 || res.StatusCode >= 300)
	clientError := res.StatusCode >= 400 && res.StatusCode < 500
	if failed && !(table.MatchClientErrors && clientError) {
		return upstreamFailure(res, table)
	}

	link := res.url()
	for _, rule := range table.Rules {
		if rule.Source != SourceURL {
			continue
		}
		if rule.Contains != "" && strings.Contains(link, rule.Contains) {
			return outcomeOf(rule, res, table)
		}
	}

	body := string(res.Body)
	for _, rule := range table.Rules {
		if rule.Source != SourceBody {
			continue
		}
		if rule.Contains != "" && strings.Contains(body, rule.Contains) {
			return outcomeOf(rule, res, table)
		}
	}

	if failed {
		return upstreamFailure(res, table)
	}
	return Outcome{
		Kind:    KindFatal,
		Reason:  failure.ReasonUnknown,
		Message: ExtractErrorText(res.doc(), table),
	}
}

func upstreamFailure(res Response, table Table) Outcome {
	return Outcome{
		Kind:    KindFatal,
		Reason:  failure.ReasonUpstreamHTTP,
		Message: ExtractErrorText(res.doc(), table),
	}
}

func outcomeOf(rule Rule, res Response, table Table) Outcome {
	out := Outcome{Kind: rule.Kind, Reason: rule.Reason}
	if out.Kind == KindFatal {
		out.Message = ExtractErrorText(res.doc(), table)
	}
	return out
}

// ExtractErrorText concatenates the text of all error-styled elements with the known
// prefixes stripped. It should only be used once it is known that an error occurred.
func ExtractErrorText(doc *goquery.Document, table Table) string {
	if doc == nil || table.ErrorSelector == "" {
		return unknownCause
	}
	separator := table.ErrorSeparator
	if separator == "" {
		separator = defaultErrorSeparator
	}

	var messages []string
	doc.Find(table.ErrorSelector).Each(func(_ int, s *goquery.Selection) {
		text := htmlutil.CleanText(s.Text())
		for _, prefix := range table.ErrorPrefixes {
			if strings.HasPrefix(text, prefix) {
				text = strings.TrimSpace(text[len(prefix):])
				break
			}
		}
		if text != "" {
			messages = append(messages, text)
		}
	})
	if len(messages) == 0 {
		return unknownCause
	}
	return strings.Join(messages, separator)
}

// Status classifies a response by its status code alone, used for json endpoints whose
// bodies carry no heuristics worth matching.
func Status(statusCode int) Outcome {
	if statusCode < 200 || statusCode >= 300 {
		return Outcome{Kind: KindFatal, Reason: failure.ReasonUpstreamHTTP}
	}
	return Outcome{Kind: KindSuccess}
}
