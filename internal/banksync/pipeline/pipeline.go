// Package pipeline sequences engine, normalizer and output for a list of jobs that
// share one authenticated session.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"banksync/internal/banksync/engine"
	"banksync/internal/banksync/failure"
	"banksync/internal/banksync/normalize"
	"banksync/internal/components/assert"
	"banksync/internal/components/chrono"
	"banksync/internal/components/telemetry"
	"banksync/internal/journal"
)

const (
	report_pipeline_job     = "pipeline.job"
	report_pipeline_journal = "pipeline.journal"
)

// StdoutOutput as a job output writes to the driver's Stdout.
const StdoutOutput = "-"

type Job struct {
	Scope  engine.ExportScope
	Output string
}

// Report is the outcome of one job.
type Report struct {
	Job     Job
	Outcome journal.Outcome
	Rows    int
	Err     error
}

type Driver struct {
	engine  *engine.Engine
	journal *journal.Journal
	stdout  io.Writer
	clock   chrono.API
	tel     telemetry.API
}

type Options struct {
	// Journal is optional, runs are not recorded without it.
	Journal   *journal.Journal
	Stdout    io.Writer
	Clock     chrono.API
	Telemetry telemetry.API
}

func NewDriver(e *engine.Engine, opts Options) Driver {
	assert.NotNil(e)
	assert.NotNil(opts.Clock)
	assert.NotNil(opts.Telemetry)
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return Driver{
		engine:  e,
		journal: opts.Journal,
		stdout:  opts.Stdout,
		clock:   opts.Clock,
		tel:     telemetry.NewScopedAPI("pipeline", opts.Telemetry),
	}
}

// Run authenticates once and runs every job in order. It stops at the first failure, the
// reports of all jobs attempted so far are returned either way.
func (d Driver) Run(ctx context.Context, creds *engine.Credentials, jobs []Job) ([]Report, error) {
	for _, job := range jobs {
		if err := job.Scope.Validate(); err != nil {
			creds.Wipe()
			return nil, err
		}
	}
	if len(jobs) == 0 {
		creds.Wipe()
		return nil, fmt.Errorf("no jobs given")
	}

	started := d.clock.Now()
	session, err := d.engine.Open(ctx, creds)
	if err != nil {
		report := Report{Job: jobs[0], Outcome: journal.OutcomeFailed, Err: err}
		d.record(ctx, report, started)
		return []Report{report}, err
	}
	defer session.Close(ctx)

	reports := make([]Report, 0, len(jobs))
	for _, job := range jobs {
		if len(reports) > 0 {
			started = d.clock.Now()
		}
		report := d.runJob(ctx, session, job)
		d.record(ctx, report, started)
		reports = append(reports, report)
		if report.Err != nil {
			d.tel.ReportWarning(report_pipeline_job, job.Scope.String(), report.Err)
			return reports, report.Err
		}
		d.tel.ReportDebug(report_pipeline_job, job.Scope.String(), string(report.Outcome), report.Rows)
	}
	return reports, nil
}

func (d Driver) runJob(ctx context.Context, session *engine.Session, job Job) Report {
	report := Report{Job: job, Outcome: journal.OutcomeFailed}

	res, err := session.Export(ctx, job.Scope)
	if err != nil {
		report.Err = err
		return report
	}

	var out bytes.Buffer
	switch {
	case res.Empty:
		report.Outcome = journal.OutcomeEmpty
		out.WriteString(normalize.EmptyResultMarker)

	case res.Payload.Format == engine.PayloadRecords:
		normalizer := normalize.NewNormalizer(job.Scope.From, job.Scope.To, d.tel)
		rows, err := normalizer.Records(res.Payload.Records)
		if err != nil {
			report.Err = err
			return report
		}
		err = normalize.WriteCSV(&out, rows)
		if err != nil {
			report.Err = err
			return report
		}
		report.Outcome = journal.OutcomeExported
		report.Rows = len(rows)

	default:
		reencoded, err := normalize.Reencode(res.Payload.Bytes, res.Payload.Encoding)
		if err != nil {
			report.Err = err
			return report
		}
		out.Write(reencoded)
		report.Outcome = journal.OutcomeExported
	}

	if err := d.write(job.Output, out.Bytes()); err != nil {
		report.Outcome = journal.OutcomeFailed
		report.Err = err
	}
	return report
}

func (d Driver) write(output string, contents []byte) error {
	if output == "" || output == StdoutOutput {
		_, err := d.stdout.Write(contents)
		return err
	}
	err := os.WriteFile(output, contents, 0600)
	if err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	return nil
}

// record stores the report in the journal. Journal failures never fail a run.
func (d Driver) record(ctx context.Context, report Report, started time.Time) {
	if d.journal == nil {
		return
	}
	run := journal.Run{
		Bank:         d.engine.Descriptor().Id,
		AccountIndex: report.Job.Scope.AccountIndex,
		From:         report.Job.Scope.From,
		To:           report.Job.Scope.To,
		Outcome:      report.Outcome,
		Rows:         report.Rows,
		Output:       report.Job.Output,
		StartedAt:    started,
		FinishedAt:   d.clock.Now(),
	}
	if report.Err != nil {
		var ferr *failure.Error
		if errors.As(report.Err, &ferr) {
			run.FailureKind = ferr.Kind.String()
			run.Reason = ferr.Reason
			run.Message = ferr.Message
		} else {
			run.Message = report.Err.Error()
		}
	}
	_, err := d.journal.Record(ctx, run)
	if err != nil {
		d.tel.ReportBroken(report_pipeline_journal, err)
	}
}
