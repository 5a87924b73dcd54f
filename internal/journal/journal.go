// Package journal keeps a local history of export runs. It never stores credentials
// or transaction data, only what was asked for and how it ended.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type Outcome string

const (
	OutcomeExported Outcome = "exported"
	OutcomeEmpty    Outcome = "empty"
	OutcomeFailed   Outcome = "failed"
)

type Run struct {
	Id           string
	Bank         string
	AccountIndex int
	From         time.Time
	To           time.Time
	Outcome      Outcome
	FailureKind  string
	Reason       string
	Message      string
	Rows         int
	Output       string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type Journal struct {
	db *sql.DB
}

func remote(dsn string) bool {
	for _, scheme := range []string{"libsql://", "http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(dsn, scheme) {
			return true
		}
	}
	return false
}

// Open opens the journal at dsn. Remote libsql urls go through the libsql driver, anything
// else is a local sqlite file (":memory:" included) that is created on first use.
func Open(dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, fmt.Errorf("a journal path was not specified")
	}

	var (
		db  *sql.DB
		err error
	)
	if remote(dsn) {
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, err
		}
	} else {
		if dsn != ":memory:" {
			err = os.MkdirAll(filepath.Dir(dsn), 0700)
			if err != nil {
				return nil, err
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// one connection, otherwise writes from the same process contend for the file
		// lock and every connection to ":memory:" would see its own database
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			_, err = db.Exec("PRAGMA journal_mode=WAL")
			if err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores a finished run and returns its id, one is generated if the run has none.
func (j *Journal) Record(ctx context.Context, run Run) (string, error) {
	if run.Id == "" {
		run.Id = uuid.NewString()
	}
	_, err := j.db.ExecContext(
		ctx,
		`insert into runs (
			id, bank, account_index, date_from, date_to, outcome,
			failure_kind, reason, message, row_count, output, started_at, finished_at
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Id, run.Bank, run.AccountIndex,
		run.From.Format(time.DateOnly), run.To.Format(time.DateOnly),
		string(run.Outcome), run.FailureKind, run.Reason, run.Message,
		run.Rows, run.Output,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return run.Id, nil
}

// List returns the most recent runs first, at most limit of them (all if limit <= 0).
func (j *Journal) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(
		ctx,
		`select
			id, bank, account_index, date_from, date_to, outcome,
			failure_kind, reason, message, row_count, output, started_at, finished_at
		from runs
		order by started_at desc, rowid desc
		limit ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run                   Run
			from, to, outcome     string
			startedAt, finishedAt int64
		)
		err := rows.Scan(
			&run.Id, &run.Bank, &run.AccountIndex, &from, &to, &outcome,
			&run.FailureKind, &run.Reason, &run.Message, &run.Rows, &run.Output,
			&startedAt, &finishedAt,
		)
		if err != nil {
			return nil, err
		}
		run.From, err = time.Parse(time.DateOnly, from)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.Id, err)
		}
		run.To, err = time.Parse(time.DateOnly, to)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.Id, err)
		}
		run.Outcome = Outcome(outcome)
		run.StartedAt = time.UnixMilli(startedAt)
		run.FinishedAt = time.UnixMilli(finishedAt)
		out = append(out, run)
	}
	return out, rows.Err()
}
