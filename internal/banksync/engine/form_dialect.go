package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"banksync/internal/banksync/classify"
	"banksync/internal/banksync/failure"
	"banksync/internal/banksync/form"
	"banksync/internal/banksync/protocol"

	"github.com/go-resty/resty/v2"
)

// formDialect talks to banks that only render html. It keeps the last html page around
// since every step starts from a form or link found on the previous one.
type formDialect struct {
	proto protocol.FormProtocol
	page  page
}

func (d *formDialect) get(ctx context.Context, s *Session, endpoint string) (page, error) {
	res, err := s.send(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return page{}, err
	}
	p := newPage(res)
	out := classify.Status(p.status)
	if !out.Ok() {
		return page{}, failure.New(failure.KindUpstreamHTTPError, out.Reason, fmt.Sprintf("GET %s: %s", endpoint, res.Status()))
	}
	return p, nil
}

func (d *formDialect) submit(ctx context.Context, s *Session, req form.Request) (*resty.Response, error) {
	s.tel.ReportDebug(report_session_form, req.Method, req.URL.String(), req.Redacted())
	return s.send(ctx, req.Method, req.URL.String(), func(r *resty.Request) {
		if req.Method == http.MethodGet {
			r.SetQueryParamsFromValues(req.Values)
			return
		}
		r.SetFormDataFromValues(req.Values)
	})
}

// locateAndFill maps form errors onto the failure taxonomy, a missing form or field
// means the bank changed its layout.
func locateAndFill(p page, intent form.Intent) (form.Request, error) {
	if p.doc == nil {
		return form.Request{}, failure.New(failure.KindNavigationFailed, failure.ReasonFormNotFound, "page is not html")
	}
	forms := form.Parse(p.doc, p.url)
	f, err := form.Locate(forms, intent.Marker)
	if err != nil {
		return form.Request{}, failure.Wrap(failure.KindNavigationFailed, failure.ReasonFormNotFound, err)
	}
	req, err := form.Fill(f, intent)
	switch {
	case errors.Is(err, form.ErrOptionOutOfRange):
		return form.Request{}, failure.Wrap(failure.KindScopeInvalid, "", err)
	case errors.Is(err, form.ErrRequiredFieldMissing):
		return form.Request{}, failure.Wrap(failure.KindNavigationFailed, failure.ReasonFieldMissing, err)
	case err != nil:
		return form.Request{}, failure.Wrap(failure.KindNavigationFailed, "", err)
	}
	return req, nil
}

func (d *formDialect) authenticate(ctx context.Context, s *Session, creds Credentials) error {
	home, err := d.get(ctx, s, d.proto.HomePath)
	if err != nil {
		return err
	}
	d.page = home

	req, err := locateAndFill(home, form.Intent{
		Marker: d.proto.LoginMarker,
		Assignments: form.Assignments{
			Identifier:       creds.Identifier,
			IdentifierLabels: d.proto.IdentifierLabels,
			LabelSimilarity:  d.proto.LabelSimilarity,
			Secret:           creds.Secret,
		},
	})
	if err != nil {
		return err
	}
	res, err := d.submit(ctx, s, req)
	if err != nil {
		return err
	}
	d.page = newPage(res)

	out := classify.Classify(d.page.response(), d.proto.LoginExpectations)
	if out.Ok() {
		return nil
	}
	if out.Reason == failure.ReasonUpstreamHTTP {
		return failure.New(failure.KindUpstreamHTTPError, out.Reason, out.Message)
	}
	return failure.New(failure.KindAuthenticationFailed, out.Reason, out.Message)
}

// scopePath is the page a scope selection starts from. Navigating banks may list their
// accounts on a page of their own.
func (d *formDialect) scopePath() string {
	if d.proto.Layout == protocol.LayoutNavigate && d.proto.AccountsPath != "" {
		return d.proto.AccountsPath
	}
	return d.proto.TransactionsPath
}

func (d *formDialect) selectScope(ctx context.Context, s *Session, scope ExportScope) error {
	p, err := d.get(ctx, s, d.scopePath())
	if err != nil {
		return err
	}
	d.page = p

	assignments := form.Assignments{
		DatePlaceholder: d.proto.DatePlaceholder,
		DateFrom:        scope.From.Format(d.proto.DateLayout),
		DateTo:          scope.To.Format(d.proto.DateLayout),
		ResubmitFalsy:   d.proto.ResubmitFalsy,
		ResubmitTruthy:  d.proto.ResubmitTruthy,
	}

	switch d.proto.Layout {
	case protocol.LayoutNavigate:
		links := p.anchors(d.proto.AccountLinkSelector)
		if scope.AccountIndex >= len(links) {
			return failure.New(
				failure.KindScopeInvalid, "",
				fmt.Sprintf("account index %d, the bank lists %d accounts", scope.AccountIndex, len(links)),
			)
		}
		account, err := d.get(ctx, s, links[scope.AccountIndex].Url.String())
		if err != nil {
			return err
		}
		d.page = account
	default:
		index := scope.AccountIndex
		assignments.AccountIndex = &index
	}

	req, err := locateAndFill(d.page, form.Intent{
		Marker:      d.proto.SearchMarker,
		Assignments: assignments,
	})
	if err != nil {
		return err
	}
	res, err := d.submit(ctx, s, req)
	if err != nil {
		return err
	}
	d.page = newPage(res)
	return nil
}

func (d *formDialect) prepareExport(ctx context.Context, s *Session, scope ExportScope) (bool, error) {
	out := classify.Classify(d.page.response(), d.proto.SearchExpectations)
	switch {
	case out.Kind == classify.KindEmpty:
		return true, nil
	case out.Ok():
		return false, nil
	case out.Reason == failure.ReasonUpstreamHTTP:
		return false, failure.New(failure.KindUpstreamHTTPError, out.Reason, out.Message)
	case out.Reason == failure.ReasonManualTanRequired:
		return false, failure.New(failure.KindExportBlocked, out.Reason, out.Message)
	}
	return false, failure.New(failure.KindNavigationFailed, out.Reason, out.Message)
}

// exportRequest finds the export action, either a form submitted with one of the
// accepted captions or a link carrying one of them.
func (d *formDialect) exportRequest() (form.Request, error) {
	if d.page.doc == nil {
		return form.Request{}, failure.New(failure.KindNavigationFailed, failure.ReasonFormNotFound, "page is not html")
	}

	forms := form.Parse(d.page.doc, d.page.url)
	f, marker, err := form.LocateAny(forms, d.proto.ExportLabels)
	if err == nil {
		return form.Fill(f, form.Intent{
			Marker: marker,
			Assignments: form.Assignments{
				ResubmitFalsy:  d.proto.ResubmitFalsy,
				ResubmitTruthy: d.proto.ResubmitTruthy,
			},
		})
	}

	for _, label := range d.proto.ExportLabels {
		for _, a := range d.page.anchors("a") {
			if a.Name == label {
				return form.Request{Method: http.MethodGet, URL: a.Url}, nil
			}
		}
	}
	return form.Request{}, failure.Wrap(failure.KindNavigationFailed, failure.ReasonFormNotFound, err)
}

func (d *formDialect) download(ctx context.Context, s *Session, scope ExportScope) (RawExportPayload, error) {
	req, err := d.exportRequest()
	if err != nil {
		return RawExportPayload{}, err
	}
	res, err := d.submit(ctx, s, req)
	if err != nil {
		return RawExportPayload{}, err
	}

	out := classify.Status(res.StatusCode())
	if !out.Ok() {
		return RawExportPayload{}, failure.New(failure.KindUpstreamHTTPError, out.Reason, res.Status())
	}
	link := finalURL(res)
	if link == nil || !strings.Contains(link.String(), d.proto.DownloadFragment) {
		d.page = newPage(res)
		return RawExportPayload{}, &failure.Error{
			Kind:    failure.KindDownloadLinkMissing,
			Reason:  failure.ReasonNoDownloadLink,
			Message: classify.ExtractErrorText(d.page.doc, d.proto.SearchExpectations),
			Err:     fmt.Errorf("export ended at %v", link),
		}
	}

	return RawExportPayload{
		Format:   PayloadBytes,
		Bytes:    res.Body(),
		Encoding: d.proto.SourceEncoding,
	}, nil
}

func (d *formDialect) logout(ctx context.Context, s *Session) error {
	if d.proto.LogoutMarker == "" || !d.page.loaded() {
		return nil
	}
	req, err := locateAndFill(d.page, form.Intent{Marker: d.proto.LogoutMarker})
	if err != nil {
		return fmt.Errorf("locate logout form: %w", err)
	}
	res, err := d.submit(ctx, s, req)
	if err != nil {
		return err
	}
	out := classify.Status(res.StatusCode())
	if !out.Ok() {
		return fmt.Errorf("logout: %s", res.Status())
	}
	return nil
}
