// Package engine drives one bank session through authentication, scope selection and
// export. It owns the state machine, everything bank specific comes from a
// protocol.Descriptor.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"banksync/internal/banksync/failure"
	"banksync/internal/banksync/protocol"
	"banksync/internal/banksync/throttle"
	"banksync/internal/components/assert"
	"banksync/internal/components/chrono"
	"banksync/internal/components/telemetry"
	"banksync/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("banksync/engine")
	meter  = otel.Meter("banksync/engine")
)

const (
	report_engine_open             = "engine.open"
	report_session_stage           = "session.stage"
	report_session_authenticate    = "session.authenticate"
	report_session_challenge       = "session.challenge"
	report_session_select_scope    = "session.select-scope"
	report_session_export          = "session.export"
	report_session_logout          = "session.logout"
	report_session_form            = "session.form"
	report_session_challenge_polls = "session.challenge-polls"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:69.0) Gecko/20100101 Firefox/69.0"
	DefaultTimeout   = 30 * time.Second
)

type Options struct {
	// BaseURL overrides the descriptor's base url, it is required for banks whose
	// descriptor has none.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond is a hard ceiling on top of the throttle gate, <= 0 disables it.
	RequestsPerSecond float64

	Clock     chrono.API
	Telemetry telemetry.API
	// Dump receives every http exchange with credentials masked, it may be nil.
	Dump restyutil.InstrumentOutput
}

type Engine struct {
	desc    protocol.Descriptor
	baseUrl *url.URL
	opts    Options
	tel     telemetry.API

	exports metric.Int64Counter
	polls   metric.Int64Counter
}

func New(desc protocol.Descriptor, opts Options) (*Engine, error) {
	assert.NotNil(opts.Clock)
	assert.NotNil(opts.Telemetry)

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	base := opts.BaseURL
	if base == "" {
		base = desc.BaseURL
	}
	if base == "" {
		return nil, fmt.Errorf("bank %q has no fixed portal, a base url is required", desc.Id)
	}
	baseUrl, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseUrl.Scheme == "" || baseUrl.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", base)
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	exports, err := meter.Int64Counter(
		"banksync.exports",
		metric.WithDescription("Number of finished exports by outcome."),
	)
	if err != nil {
		return nil, err
	}
	polls, err := meter.Int64Counter(
		"banksync.challenge_polls",
		metric.WithDescription("Number of challenge status requests."),
	)
	if err != nil {
		return nil, err
	}

	return &Engine{
		desc:    desc,
		baseUrl: baseUrl,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("engine", opts.Telemetry),
		exports: exports,
		polls:   polls,
	}, nil
}

func (e *Engine) Descriptor() protocol.Descriptor {
	return e.desc
}

// dialect is the variant specific half of a session. Every method performs exactly one
// forward transition worth of requests, the session does the bookkeeping.
type dialect interface {
	authenticate(ctx context.Context, s *Session, creds Credentials) error
	selectScope(ctx context.Context, s *Session, scope ExportScope) error
	// prepareExport reports true if the bank answered the scope with an empty result.
	prepareExport(ctx context.Context, s *Session, scope ExportScope) (bool, error)
	download(ctx context.Context, s *Session, scope ExportScope) (RawExportPayload, error)
	logout(ctx context.Context, s *Session) error
}

func (e *Engine) newDialect() dialect {
	switch e.desc.Variant {
	case protocol.VariantAPI:
		return &apiDialect{proto: *e.desc.API}
	case protocol.VariantForm:
		return &formDialect{proto: *e.desc.Form}
	}
	panic(fmt.Sprintf("unknown bank variant %q", e.desc.Variant))
}

// Session is one authenticated conversation with a bank. It is not safe for concurrent
// use, requests within a session are strictly sequential.
type Session struct {
	engine  *Engine
	http    *resty.Client
	gate    *throttle.Gate
	dialect dialect
	tel     telemetry.API

	stage    Stage
	requests int
}

func (s *Session) Stage() Stage {
	return s.stage
}

func (s *Session) advance(to Stage) {
	assert.True(s.stage.canAdvance(to), "illegal stage transition %s -> %s", s.stage, to)
	s.tel.ReportDebug(report_session_stage, s.stage.String(), to.String())
	s.stage = to
}

func (s *Session) fail(span trace.Span, id string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, failure.KindOf(err).String())
	s.tel.ReportWarning(id, err)
	if !s.stage.terminal() {
		s.advance(StageFailed)
	}
	return err
}

// send performs one request, waiting on the throttle gate before every request but the
// first.
func (s *Session) send(ctx context.Context, method, endpoint string, prepare func(req *resty.Request)) (*resty.Response, error) {
	if s.requests > 0 {
		if err := s.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}
	s.requests++

	req := s.http.R().SetContext(ctx)
	if prepare != nil {
		prepare(req)
	}
	res, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, failure.Wrap(failure.KindUpstreamHTTPError, failure.ReasonUpstreamHTTP, err)
	}
	return res, nil
}

// Open authenticates a new session. The secret is wiped before Open returns. On failure
// a best effort logout is attempted and the returned session is nil.
func (e *Engine) Open(ctx context.Context, creds *Credentials) (*Session, error) {
	ctx, span := tracer.Start(ctx, "engine:Open", trace.WithAttributes(
		attribute.String("bank", e.desc.Id),
	))
	defer span.End()
	defer creds.Wipe()

	if err := validate.Struct(creds); err != nil {
		err = failure.Wrap(failure.KindAuthenticationFailed, "", err)
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, err
	}

	tel := telemetry.NewScopedAPI(e.desc.Id, e.opts.Telemetry)
	httpClient, err := e.newHTTPClient(tel)
	if err != nil {
		e.tel.ReportBroken(report_engine_open, err)
		span.SetStatus(codes.Error, "failed to create http client")
		return nil, err
	}

	s := &Session{
		engine:  e,
		http:    httpClient,
		gate:    throttle.NewGate(e.desc.Throttle.Min(), e.desc.Throttle.Max(), e.opts.Clock, tel),
		dialect: e.newDialect(),
		tel:     tel,
		stage:   StageFresh,
	}

	s.advance(StageAuthenticating)
	err = s.dialect.authenticate(ctx, s, *creds)
	if err != nil {
		err = s.fail(span, report_session_authenticate, err)
		s.Close(ctx)
		return nil, err
	}
	s.advance(StageAuthenticated)

	span.SetStatus(codes.Ok, "authenticated")
	return s, nil
}

// Export runs one scope on an authenticated session. A session can export several
// scopes in sequence, any failure leaves it in StageFailed.
func (s *Session) Export(ctx context.Context, scope ExportScope) (Result, error) {
	ctx, span := tracer.Start(ctx, "session:Export", trace.WithAttributes(
		attribute.String("bank", s.engine.desc.Id),
		attribute.Int("account_index", scope.AccountIndex),
	))
	defer span.End()

	if err := scope.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid scope")
		return Result{}, err
	}
	if s.stage != StageAuthenticated && s.stage != StageExported {
		err := fmt.Errorf("cannot export from stage %s", s.stage)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	err := s.dialect.selectScope(ctx, s, scope)
	if err != nil {
		s.countExport(ctx, "failed")
		return Result{}, s.fail(span, report_session_select_scope, err)
	}
	s.advance(StageScopeSelected)

	empty, err := s.dialect.prepareExport(ctx, s, scope)
	if err != nil {
		s.countExport(ctx, "failed")
		return Result{}, s.fail(span, report_session_export, err)
	}
	if empty {
		s.advance(StageExported)
		s.countExport(ctx, "empty")
		span.SetStatus(codes.Ok, "empty")
		return Result{Scope: scope, Empty: true}, nil
	}
	s.advance(StageExportReady)

	payload, err := s.dialect.download(ctx, s, scope)
	if err != nil {
		s.countExport(ctx, "failed")
		return Result{}, s.fail(span, report_session_export, err)
	}
	s.advance(StageExported)
	s.countExport(ctx, "exported")

	span.SetStatus(codes.Ok, "exported")
	return Result{Scope: scope, Payload: payload}, nil
}

func (s *Session) countExport(ctx context.Context, outcome string) {
	s.engine.exports.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bank", s.engine.desc.Id),
		attribute.String("outcome", outcome),
	))
}

// Close attempts to log out. Logout failures are reported as warnings and never
// returned, a failed logout does not invalidate exports that already succeeded.
func (s *Session) Close(ctx context.Context) {
	if s.stage == StageTerminated {
		return
	}
	ctx, span := tracer.Start(ctx, "session:Close")
	defer span.End()

	err := s.dialect.logout(ctx, s)
	if err != nil {
		span.RecordError(err)
		s.tel.ReportWarning(report_session_logout, err)
	}
	if s.stage != StageFailed {
		s.advance(StageTerminated)
	}
}

// Run opens a session, exports every scope in order and closes the session. It stops at
// the first failure and returns the results gathered so far.
func (e *Engine) Run(ctx context.Context, creds *Credentials, scopes []ExportScope) ([]Result, error) {
	for _, scope := range scopes {
		if err := scope.Validate(); err != nil {
			creds.Wipe()
			return nil, err
		}
	}

	s, err := e.Open(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)

	results := make([]Result, 0, len(scopes))
	for _, scope := range scopes {
		res, err := s.Export(ctx, scope)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
