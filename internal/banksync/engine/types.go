package engine

import (
	"fmt"
	"time"

	"banksync/internal/banksync/failure"
	"banksync/internal/components/chrono"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Credentials are owned by the caller, the engine wipes the secret once authentication
// has finished regardless of its outcome.
type Credentials struct {
	Identifier string `validate:"required"`
	Secret     []byte `validate:"required,min=1"`
}

func (c *Credentials) Wipe() {
	for i := range c.Secret {
		c.Secret[i] = 0
	}
	c.Secret = nil
}

// ExportScope is one export request. Dates are calendar dates, their clock part is
// ignored.
type ExportScope struct {
	AccountIndex int       `validate:"gte=0"`
	From         time.Time `validate:"required"`
	To           time.Time `validate:"required"`
}

func (s ExportScope) Validate() error {
	err := validate.Struct(s)
	if err != nil {
		return failure.Wrap(failure.KindScopeInvalid, "", err)
	}
	if chrono.Date(s.To).Before(chrono.Date(s.From)) {
		return failure.New(
			failure.KindScopeInvalid, "",
			fmt.Sprintf("date range is inverted: %s > %s", s.From.Format(time.DateOnly), s.To.Format(time.DateOnly)),
		)
	}
	return nil
}

func (s ExportScope) String() string {
	return fmt.Sprintf("account %d, %s to %s", s.AccountIndex, s.From.Format(time.DateOnly), s.To.Format(time.DateOnly))
}

type Stage int

const (
	StageFresh Stage = iota
	StageAuthenticating
	StageChallengePending
	StageAuthenticated
	StageScopeSelected
	StageExportReady
	StageExported
	StageTerminated
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageFresh:
		return "fresh"
	case StageAuthenticating:
		return "authenticating"
	case StageChallengePending:
		return "challenge_pending"
	case StageAuthenticated:
		return "authenticated"
	case StageScopeSelected:
		return "scope_selected"
	case StageExportReady:
		return "export_ready"
	case StageExported:
		return "exported"
	case StageTerminated:
		return "terminated"
	case StageFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// transitions lists the forward edges of the session state machine. Failed is reachable
// from every non-terminal stage and Terminated from every live one, neither is listed.
// Exported -> ScopeSelected is the only back-edge, taken when one session exports several
// scopes. ScopeSelected -> Exported is the empty result short-circuit.
var transitions = map[Stage][]Stage{
	StageFresh:            {StageAuthenticating},
	StageAuthenticating:   {StageChallengePending, StageAuthenticated},
	StageChallengePending: {StageAuthenticated},
	StageAuthenticated:    {StageScopeSelected},
	StageScopeSelected:    {StageExportReady, StageExported},
	StageExportReady:      {StageExported},
	StageExported:         {StageScopeSelected},
}

func (s Stage) terminal() bool {
	return s == StageTerminated || s == StageFailed
}

func (s Stage) canAdvance(to Stage) bool {
	if s.terminal() {
		return false
	}
	if to == StageFailed || to == StageTerminated {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Challenge is the out-of-band confirmation step of api banks.
type Challenge struct {
	Id       string
	MfaId    string
	MethodId string
	// Status is the last verification status reported by the bank, empty before the
	// first poll.
	Status string
	// Polls is the number of status requests made so far.
	Polls int
}

type PayloadFormat int

const (
	// PayloadRecords are json transaction records that still need normalizing.
	PayloadRecords PayloadFormat = iota
	// PayloadBytes is a file produced by the bank, passed through after re-encoding.
	PayloadBytes
)

func (f PayloadFormat) String() string {
	if f == PayloadBytes {
		return "bytes"
	}
	return "records"
}

// RawExportPayload is the export exactly as the bank delivered it.
type RawExportPayload struct {
	Format  PayloadFormat
	Records []map[string]any
	Bytes   []byte
	// Encoding is the charset of Bytes as declared by the bank descriptor.
	Encoding string
}

type Result struct {
	Scope ExportScope
	// Empty is set when the bank reported that the scope has no transactions, Payload is
	// then zero.
	Empty   bool
	Payload RawExportPayload
}
