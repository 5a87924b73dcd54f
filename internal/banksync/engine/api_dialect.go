package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"banksync/internal/banksync/classify"
	"banksync/internal/banksync/failure"
	"banksync/internal/banksync/protocol"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	statusProcessed  = "processed"
	statusProcessing = "processing"
)

// apiDialect talks to banks with a json api. Authentication is a token grant followed by
// an out-of-band challenge that the user confirms on another device.
type apiDialect struct {
	proto protocol.APIProtocol

	accessToken string
	challenge   Challenge
	accountId   string
	records     []map[string]any
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	MfaId       string `json:"mfa_id"`
}

type resourceList struct {
	Data []struct {
		Id string `json:"id"`
	} `json:"data"`
}

type challengeResource struct {
	Data struct {
		Id         string `json:"id"`
		Attributes struct {
			VerificationStatus string `json:"verificationStatus"`
		} `json:"attributes"`
	} `json:"data"`
}

type challengeRequest struct {
	Data challengeRequestData `json:"data"`
}

type challengeRequestData struct {
	Type       string                     `json:"type"`
	Attributes challengeRequestAttributes `json:"attributes"`
}

type challengeRequestAttributes struct {
	MethodId   string `json:"methodId"`
	MethodType string `json:"methodType"`
	MfaId      string `json:"mfaId"`
}

type transactionList struct {
	Data []map[string]any `json:"data"`
}

func decodeJSON(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

// call performs a request that must answer with 2xx and decodes the json body into out
// (if out is not nil).
func (d *apiDialect) call(ctx context.Context, s *Session, kind failure.Kind, method, endpoint string, prepare func(req *resty.Request), out any) error {
	res, err := s.send(ctx, method, endpoint, prepare)
	if err != nil {
		return err
	}
	status := classify.Status(res.StatusCode())
	if !status.Ok() {
		return failure.New(failure.KindUpstreamHTTPError, status.Reason, fmt.Sprintf("%s %s: %s", method, endpoint, res.Status()))
	}
	if out == nil {
		return nil
	}
	if err := decodeJSON(res.Body(), out); err != nil {
		return failure.Wrap(kind, failure.ReasonUnknown, fmt.Errorf("decode %s: %w", endpoint, err))
	}
	return nil
}

func (d *apiDialect) authenticate(ctx context.Context, s *Session, creds Credentials) error {
	res, err := s.send(ctx, http.MethodGet, d.proto.SessionPath, nil)
	if err != nil {
		return err
	}
	if out := classify.Status(res.StatusCode()); !out.Ok() {
		return failure.New(failure.KindUpstreamHTTPError, out.Reason, res.Status())
	}
	if d.proto.XSRFCookie != "" {
		token := ""
		for _, c := range res.Cookies() {
			if c.Name == d.proto.XSRFCookie {
				token = c.Value
			}
		}
		if token == "" {
			return failure.New(
				failure.KindNavigationFailed, failure.ReasonUnknown,
				fmt.Sprintf("anti-forgery cookie %q missing", d.proto.XSRFCookie),
			)
		}
		s.http.SetHeader(d.proto.XSRFHeader, token)
	}

	grant := map[string]string{
		"grant_type": d.proto.LoginGrant,
		"username":   creds.Identifier,
		"password":   string(creds.Secret),
	}
	if d.proto.ScaType != "" {
		grant["sca_type"] = d.proto.ScaType
	}
	res, err = s.send(ctx, http.MethodPost, d.proto.TokenPath, func(req *resty.Request) {
		req.SetFormData(grant)
	})
	if err != nil {
		return err
	}
	out := classify.Classify(classify.Response{StatusCode: res.StatusCode(), Body: res.Body()}, d.proto.TokenExpectations)
	if !out.Ok() {
		if out.Reason == failure.ReasonUpstreamHTTP {
			return failure.New(failure.KindUpstreamHTTPError, out.Reason, res.Status())
		}
		return failure.New(failure.KindAuthenticationFailed, out.Reason, out.Message)
	}
	var token tokenResponse
	err = decodeJSON(res.Body(), &token)
	if err != nil || token.AccessToken == "" || token.MfaId == "" {
		return failure.New(failure.KindAuthenticationFailed, failure.ReasonUnknown, "token response lacks access_token or mfa_id")
	}
	d.accessToken = token.AccessToken
	d.challenge = Challenge{MfaId: token.MfaId}

	s.advance(StageChallengePending)
	if err := d.createChallenge(ctx, s); err != nil {
		return err
	}
	if err := d.awaitChallenge(ctx, s); err != nil {
		return err
	}

	err = d.call(ctx, s, failure.KindAuthenticationFailed, http.MethodPost, d.proto.TokenPath, func(req *resty.Request) {
		req.SetFormData(map[string]string{
			"grant_type":   d.proto.MFAGrant,
			"mfa_id":       d.challenge.MfaId,
			"access_token": d.accessToken,
		})
	}, nil)
	if err != nil {
		return err
	}
	return nil
}

func (d *apiDialect) createChallenge(ctx context.Context, s *Session) error {
	var methods resourceList
	err := d.call(
		ctx, s, failure.KindAuthenticationFailed,
		http.MethodGet, fmt.Sprintf(d.proto.MethodsPath, d.challenge.MfaId),
		nil, &methods,
	)
	if err != nil {
		return err
	}
	if len(methods.Data) == 0 {
		return failure.New(
			failure.KindAuthenticationFailed, failure.ReasonUnknown,
			fmt.Sprintf("no challenge method %q is registered", d.proto.ChallengeMethod),
		)
	}
	d.challenge.MethodId = methods.Data[0].Id

	body, err := json.Marshal(challengeRequest{
		Data: challengeRequestData{
			Type: "mfa-challenge",
			Attributes: challengeRequestAttributes{
				MethodId:   d.challenge.MethodId,
				MethodType: d.proto.ChallengeMethod,
				MfaId:      d.challenge.MfaId,
			},
		},
	})
	if err != nil {
		return err
	}

	var created challengeResource
	err = d.call(ctx, s, failure.KindAuthenticationFailed, http.MethodPost, d.proto.ChallengesPath, func(req *resty.Request) {
		if d.proto.ChallengeContentType != "" {
			req.SetHeader("Content-Type", d.proto.ChallengeContentType)
		}
		req.SetBody(body)
	}, &created)
	if err != nil {
		return err
	}
	if created.Data.Id == "" {
		return failure.New(failure.KindAuthenticationFailed, failure.ReasonUnknown, "challenge response lacks an id")
	}
	d.challenge.Id = created.Data.Id
	s.tel.ReportDebug(report_session_challenge, d.challenge.Id, d.challenge.MethodId)
	return nil
}

// awaitChallenge polls the challenge status every interval, at most PollAttempts times.
// This is the only step of a session that repeats requests.
func (d *apiDialect) awaitChallenge(ctx context.Context, s *Session) error {
	attempts := d.proto.PollAttempts()
	endpoint := fmt.Sprintf(d.proto.ChallengePath, d.challenge.Id)

	for d.challenge.Polls < attempts {
		var status challengeResource
		err := d.call(ctx, s, failure.KindChallengeUnexpectedStatus, http.MethodGet, endpoint, nil, &status)
		d.challenge.Polls++
		s.engine.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("bank", s.engine.desc.Id)))
		s.tel.ReportCount(report_session_challenge_polls, int64(d.challenge.Polls))
		if err != nil {
			return err
		}

		d.challenge.Status = status.Data.Attributes.VerificationStatus
		switch d.challenge.Status {
		case statusProcessed:
			return nil
		case statusProcessing:
		default:
			return failure.New(
				failure.KindChallengeUnexpectedStatus, failure.ReasonUnexpectedStatus,
				fmt.Sprintf("challenge status %q", d.challenge.Status),
			)
		}

		if d.challenge.Polls < attempts {
			if err := s.engine.opts.Clock.Sleep(ctx, d.proto.PollInterval()); err != nil {
				return err
			}
		}
	}

	return failure.New(
		failure.KindChallengeTimeout, failure.ReasonTimeout,
		fmt.Sprintf("challenge not confirmed after %d polls", d.challenge.Polls),
	)
}

func (d *apiDialect) selectScope(ctx context.Context, s *Session, scope ExportScope) error {
	var accounts resourceList
	err := d.call(ctx, s, failure.KindNavigationFailed, http.MethodGet, d.proto.AccountsPath, nil, &accounts)
	if err != nil {
		return err
	}
	if scope.AccountIndex >= len(accounts.Data) {
		return failure.New(
			failure.KindScopeInvalid, "",
			fmt.Sprintf("account index %d, the bank lists %d accounts", scope.AccountIndex, len(accounts.Data)),
		)
	}
	d.accountId = accounts.Data[scope.AccountIndex].Id
	d.records = nil
	return nil
}

func (d *apiDialect) prepareExport(ctx context.Context, s *Session, scope ExportScope) (bool, error) {
	var transactions transactionList
	err := d.call(
		ctx, s, failure.KindMalformedPayload,
		http.MethodGet, fmt.Sprintf(d.proto.TransactionsPath, d.accountId),
		nil, &transactions,
	)
	if err != nil {
		return false, err
	}
	d.records = transactions.Data
	return len(d.records) == 0, nil
}

func (d *apiDialect) download(ctx context.Context, s *Session, scope ExportScope) (RawExportPayload, error) {
	records := d.records
	d.records = nil
	return RawExportPayload{Format: PayloadRecords, Records: records}, nil
}

func (d *apiDialect) logout(ctx context.Context, s *Session) error {
	d.accessToken = ""
	if d.proto.RevokePath == "" || s.requests == 0 {
		return nil
	}
	return d.call(ctx, s, failure.KindUnknown, http.MethodPost, d.proto.RevokePath, func(req *resty.Request) {
		req.SetFormData(map[string]string{"token": "no-token"})
	}, nil)
}
