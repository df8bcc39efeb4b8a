/*
Package pipeline drives one douclip invocation: it plans the date window,
fetches each date's editions, extracts and filters their articles, commits
every processed file to the ledger and finally records the run.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shanehull/douclip/internal/extract"
	"github.com/shanehull/douclip/internal/filter"
	"github.com/shanehull/douclip/internal/history"
	"github.com/shanehull/douclip/internal/inlabs"
	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/planner"
	"github.com/shanehull/douclip/internal/types"
)

const (
	DefaultConcurrency = 4
	DefaultSection     = "DO1"

	failureRecordTimeout = 15 * time.Second
)

// Source is the remote portal.
type Source interface {
	Login(ctx context.Context) error
	ListCandidates(ctx context.Context, date time.Time) ([]string, error)
	Fetch(ctx context.Context, date time.Time, name string) ([]byte, error)
}

// Ledger remembers which files were already processed.
type Ledger interface {
	HasProcessed(ctx context.Context, filename string) (bool, error)
	Commit(ctx context.Context, file types.ProcessedFile, matches []types.Match) error
}

// Recorder persists the outcome of a run.
type Recorder interface {
	Record(ctx context.Context, run *types.Run) (*types.Run, []types.Match, error)
	RecordFailure(ctx context.Context, run *types.Run, cause error) (*types.Run, error)
}

// Store is the combined persistence surface; *history.Store implements it.
type Store interface {
	Ledger
	Recorder
}

type Options struct {
	Sections     []string
	Concurrency  int
	LookbackDays int
}

type Request struct {
	Mode  types.Mode
	Start time.Time
	End   time.Time
}

// DateReport summarises the work done for one date.
type DateReport struct {
	Date           time.Time
	ListingFailed  bool
	Seen           int
	Processed      int
	Skipped        int
	Failed         int
	RecordsSkipped int
	Matches        int
}

// Result is what Run hands back to the caller. Run is always set when the
// store was reachable, including on failure.
type Result struct {
	Run     *types.Run
	Matches []types.Match
	Reports []DateReport
}

type Orchestrator struct {
	source     Source
	store      Store
	extractors extract.Set
	engine     *filter.Engine
	opts       Options
	log        logger.Logger
}

func New(source Source, store Store, extractors extract.Set, engine *filter.Engine, opts Options, log logger.Logger) *Orchestrator {
	if len(opts.Sections) == 0 {
		opts.Sections = []string{DefaultSection}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		source:     source,
		store:      store,
		extractors: extractors,
		engine:     engine,
		opts:       opts,
		log:        log,
	}
}

// Run executes a whole invocation and records it. A fatal error still records
// a failed run before being returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	run := &types.Run{
		Mode:      req.Mode,
		StartDate: planner.Day(req.Start),
		EndDate:   planner.Day(req.End),
	}
	res := &Result{}

	dates, err := planner.Plan(req.Mode, req.Start, req.End, o.opts.LookbackDays)
	if err != nil {
		return o.fail(ctx, res, run, fmt.Errorf("failed to plan window: %w", err))
	}

	first, last, ok := planner.Window(dates)
	if !ok {
		o.log.Info("Empty date window, nothing to fetch",
			zap.String("mode", string(req.Mode)),
			zap.String("start", run.StartDate.Format(types.DateLayout)),
			zap.String("end", run.EndDate.Format(types.DateLayout)),
		)
		run.Notes = "empty date window"
		return o.record(ctx, res, run)
	}
	run.StartDate, run.EndDate = first, last

	o.log.Info("Starting run",
		zap.String("mode", string(req.Mode)),
		zap.String("start", first.Format(types.DateLayout)),
		zap.String("end", last.Format(types.DateLayout)),
		zap.Int("dates", len(dates)),
	)

	if err := o.source.Login(ctx); err != nil {
		return o.fail(ctx, res, run, fmt.Errorf("failed to log in: %w", err))
	}

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, res, run, fmt.Errorf("run cancelled: %w", err))
		}

		rep, err := o.ProcessDate(ctx, date)
		res.Reports = append(res.Reports, rep)
		accumulate(run, rep)
		if err != nil {
			return o.fail(ctx, res, run, err)
		}
	}

	return o.record(ctx, res, run)
}

// ProcessDate fetches, extracts, filters and commits every new edition
// published on date. Per-file problems are counted in the report; the error
// is reserved for conditions that must stop the run.
func (o *Orchestrator) ProcessDate(ctx context.Context, date time.Time) (DateReport, error) {
	date = planner.Day(date)
	day := date.Format(types.DateLayout)
	rep := DateReport{Date: date}
	log := o.log.With(zap.String("date", day))

	names, err := o.source.ListCandidates(ctx, date)
	if err != nil {
		if errors.Is(err, inlabs.ErrAuth) {
			return rep, fmt.Errorf("session expired listing %s: %w", day, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rep, fmt.Errorf("listing %s: %w", day, ctxErr)
		}
		log.Warn("Failed to list files, skipping date", zap.Error(err))
		rep.ListingFailed = true
		rep.Failed++
		return rep, nil
	}

	listed := make(map[string]bool, len(names))
	for _, n := range names {
		listed[n] = true
	}

	pending, err := o.pendingEditions(ctx, date, listed, &rep)
	if err != nil {
		return rep, err
	}
	if len(pending) == 0 {
		log.Info("No new editions", zap.Int("listed", len(names)), zap.Int("skipped", rep.Skipped))
		return rep, nil
	}

	fetched := o.fetchAll(ctx, pending, listed)

	for i, f := range fetched {
		ed := pending[i]
		if f.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, fmt.Errorf("fetching %s: %w", ed.Label, ctxErr)
			}
			log.Warn("Failed to fetch edition",
				zap.String("edition", ed.Label),
				zap.Error(f.err),
			)
			rep.Failed++
			continue
		}

		n, err := o.processBundle(ctx, f.bundle, &rep)
		if err != nil {
			return rep, err
		}
		rep.Matches += n
	}

	log.Info("Date processed",
		zap.Int("seen", rep.Seen),
		zap.Int("processed", rep.Processed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Int("matches", rep.Matches),
	)
	return rep, nil
}

// pendingEditions returns the listed editions not yet in the ledger, in
// section then publication order.
func (o *Orchestrator) pendingEditions(ctx context.Context, date time.Time, listed map[string]bool, rep *DateReport) ([]types.Edition, error) {
	var out []types.Edition
	for _, section := range o.opts.Sections {
		for _, ed := range inlabs.Editions(date, section, listed) {
			if !listed[ed.ArchiveName] && !listed[ed.DocumentName] {
				continue
			}
			rep.Seen++

			done, err := o.seen(ctx, ed)
			if err != nil {
				return nil, err
			}
			if done {
				o.log.Debug("Edition already processed", zap.String("edition", ed.Label))
				rep.Skipped++
				continue
			}
			out = append(out, ed)
		}
	}
	return out, nil
}

func (o *Orchestrator) seen(ctx context.Context, ed types.Edition) (bool, error) {
	for _, name := range []string{ed.ArchiveName, ed.DocumentName} {
		ok, err := o.store.HasProcessed(ctx, name)
		if err != nil {
			return false, fmt.Errorf("ledger lookup: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type fetchResult struct {
	bundle *types.Bundle
	err    error
}

func (o *Orchestrator) fetchAll(ctx context.Context, eds []types.Edition, listed map[string]bool) []fetchResult {
	results := make([]fetchResult, len(eds))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.opts.Concurrency)

	for i, ed := range eds {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, ed types.Edition) {
			defer wg.Done()
			defer func() { <-sem }()

			b, err := o.fetchEdition(ctx, ed, listed)
			results[i] = fetchResult{bundle: b, err: err}
		}(i, ed)
	}

	wg.Wait()
	return results
}

// fetchEdition prefers the archive. The document is fetched when the archive
// is not listed or turns out to be missing; any other archive failure is
// returned so the edition is retried on the next run.
func (o *Orchestrator) fetchEdition(ctx context.Context, ed types.Edition, listed map[string]bool) (*types.Bundle, error) {
	if listed[ed.ArchiveName] {
		data, err := o.source.Fetch(ctx, ed.Date, ed.ArchiveName)
		if err == nil {
			return &types.Bundle{Edition: ed, Filename: ed.ArchiveName, Kind: types.KindArchive, Data: data}, nil
		}
		if !errors.Is(err, inlabs.ErrNotFound) {
			return nil, err
		}
		o.log.Warn("Listed archive missing, falling back to document",
			zap.String("archive", ed.ArchiveName),
			zap.String("document", ed.DocumentName),
		)
	}

	data, err := o.source.Fetch(ctx, ed.Date, ed.DocumentName)
	if err != nil {
		return nil, err
	}
	return &types.Bundle{Edition: ed, Filename: ed.DocumentName, Kind: types.KindDocument, Data: data}, nil
}

// processBundle extracts and filters b, then commits it with its matches. It
// returns the number of matches staged.
func (o *Orchestrator) processBundle(ctx context.Context, b *types.Bundle, rep *DateReport) (int, error) {
	log := o.log.With(zap.String("file", b.Filename))

	ex, err := o.extractors.For(b.Kind)
	if err != nil {
		log.Warn("Cannot extract bundle", zap.Error(err))
		rep.Failed++
		return 0, nil
	}

	out, err := ex.Extract(b.Data, b.Filename)
	if err != nil {
		log.Warn("Failed to extract bundle, leaving it for the next run", zap.Error(err))
		rep.Failed++
		return 0, nil
	}
	rep.RecordsSkipped += out.Skipped

	pubDate := b.Edition.Date.Format(types.DateLayout)
	var matches []types.Match
	for _, rec := range out.Records {
		rec.Section = b.Edition.Section
		for _, c := range o.engine.Evaluate(rec) {
			matches = append(matches, types.Match{
				FilterName:   c.FilterName,
				SourceFile:   b.Filename,
				KeywordHit:   c.Keyword,
				Snippet:      c.Snippet,
				Organization: rec.Organization,
				Title:        rec.Title,
				Link:         rec.Link,
				PubDate:      pubDate,
			})
		}
	}

	err = o.store.Commit(ctx, types.ProcessedFile{
		Filename: b.Filename,
		Kind:     b.Kind,
		PubDate:  b.Edition.Date,
	}, matches)
	if errors.Is(err, history.ErrAlreadyProcessed) {
		log.Warn("File was committed concurrently, discarding matches")
		rep.Skipped++
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger commit: %w", err)
	}

	log.Info("File processed",
		zap.String("kind", string(b.Kind)),
		zap.Int("records", len(out.Records)),
		zap.Int("records_skipped", out.Skipped),
		zap.Int("matches", len(matches)),
	)
	rep.Processed++
	return len(matches), nil
}

func (o *Orchestrator) record(ctx context.Context, res *Result, run *types.Run) (*Result, error) {
	recorded, matches, err := o.store.Record(ctx, run)
	if err != nil {
		return o.fail(ctx, res, run, fmt.Errorf("failed to record run: %w", err))
	}
	res.Run, res.Matches = recorded, matches

	o.log.Info("Run recorded",
		zap.String("run_id", recorded.ID),
		zap.Int("matches", recorded.MatchCount),
		zap.Int("files_processed", recorded.FilesProcessed),
		zap.Int("files_failed", recorded.FilesFailed),
	)
	return res, nil
}

// fail records run as failed on a context that outlives cancellation of ctx,
// then returns cause.
func (o *Orchestrator) fail(ctx context.Context, res *Result, run *types.Run, cause error) (*Result, error) {
	o.log.Error("Run failed", zap.Error(cause))

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	recorded, err := o.store.RecordFailure(rctx, run, cause)
	if err != nil {
		o.log.Error("Failed to record failed run", zap.Error(err))
		return res, errors.Join(cause, err)
	}
	res.Run = recorded
	return res, cause
}

func accumulate(run *types.Run, rep DateReport) {
	run.FilesSeen += rep.Seen
	run.FilesProcessed += rep.Processed
	run.FilesSkipped += rep.Skipped
	run.FilesFailed += rep.Failed
	run.RecordsSkipped += rep.RecordsSkipped
	if rep.ListingFailed {
		note := "listing failed for " + rep.Date.Format(types.DateLayout)
		if run.Notes == "" {
			run.Notes = note
		} else if !strings.Contains(run.Notes, note) {
			run.Notes += "; " + note
		}
	}
}
