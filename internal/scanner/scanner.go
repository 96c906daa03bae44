// Package scanner drives a permit availability scan: for every requested
// park, every trail, and every upcoming calendar month it fetches the
// month's availability, filters it, and writes a report block.
//
// Windows may be fetched in parallel, but blocks are always written to the
// sink in park → trail → month order, so the report reads exactly like a
// sequential run.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/username/permit-finder/internal/availability"
	"github.com/username/permit-finder/internal/catalog"
	"github.com/username/permit-finder/internal/recgov"
	"github.com/username/permit-finder/internal/report"
	"github.com/username/permit-finder/pkg/dateutil"
)

// ErrParkNotFound is wrapped by ConfigurationError
var ErrParkNotFound = errors.New("park not found in catalog")

// ConfigurationError means a requested park is not in the catalog. It is
// fatal for the run.
type ConfigurationError struct {
	Park string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("park %q: %v", e.Park, ErrParkNotFound)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrParkNotFound
}

// Fetcher retrieves one park's availability for one date range. Failures
// are reported to w by the fetcher itself.
type Fetcher interface {
	FetchAvailability(ctx context.Context, w report.Sink, parkID int, start, end time.Time) (*recgov.AvailabilityResponse, error)
}

// Options configures a scan
type Options struct {
	Months      int
	MinSpots    int
	Location    *time.Location // reference timezone for "today"
	Concurrency int            // parallel window fetches, 1 = sequential
	RunTimeout  time.Duration  // fetch deadline for the whole run, 0 = none
}

// Summary describes a finished (or aborted) run
type Summary struct {
	RunID          string
	Parks          int
	Trails         int
	WindowsScanned int
	WindowsFailed  int
	DaysFound      int
	Duration       time.Duration
}

// Scanner runs availability scans against a catalog
type Scanner struct {
	catalog *catalog.Catalog
	fetcher Fetcher
	sink    report.Sink
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes a Scanner
type Option func(*Scanner)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		s.now = now
	}
}

// New creates a new Scanner
func New(cat *catalog.Catalog, fetcher Fetcher, sink report.Sink, opts Options, logger *zap.Logger, extra ...Option) *Scanner {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scanner{
		catalog: cat,
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range extra {
		opt(s)
	}
	return s
}

// block is one contiguous piece of report output
type block struct {
	lines  report.Buffer
	done   chan struct{}
	window bool
	failed bool
	days   int
}

func newBlock() *block {
	return &block{done: make(chan struct{})}
}

type job struct {
	park   catalog.Park
	trail  catalog.Trail
	window dateutil.MonthWindow
	out    *block
}

// Run scans parkNames in order. An unknown park name is reported once and
// aborts the run with a *ConfigurationError before any request is made.
// Per-window fetch failures are reported and skipped. Once RunTimeout has
// passed every remaining window is reported as a failed fetch. If ctx is
// cancelled the run stops at once and ctx.Err() is returned.
func (s *Scanner) Run(ctx context.Context, parkNames []string) (*Summary, error) {
	startedAt := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	logger := s.logger.With(zap.String("run_id", summary.RunID))

	parks := make([]catalog.Park, 0, len(parkNames))
	for _, name := range parkNames {
		park, ok := s.catalog.Lookup(name)
		if !ok {
			report.Printf(s.sink, "Park name '%s' not found in the map.", name)
			logger.Error("Unknown park requested", zap.String("park", name))
			return summary, &ConfigurationError{Park: name}
		}
		parks = append(parks, park)
	}

	now := s.now().In(s.opts.Location)
	today := dateutil.TodayIn(now, s.opts.Location)
	windows := dateutil.MonthWindows(now, s.opts.Months)

	logger.Info("Starting availability scan",
		zap.Strings("parks", parkNames),
		zap.Int("months", s.opts.Months),
		zap.Int("min_spots", s.opts.MinSpots),
		zap.String("today", dateutil.FormatDate(today)),
		zap.Int("concurrency", s.opts.Concurrency))

	blocks, jobs := s.plan(parks, windows)
	summary.Parks = len(parks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	fetchCtx := gctx
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(gctx, s.opts.RunTimeout)
		defer cancel()
	}

	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for _, j := range jobs {
			if gctx.Err() != nil {
				return
			}
			j := j
			g.Go(func() error {
				return s.scanWindow(gctx, fetchCtx, j, today, logger)
			})
		}
	}()

	err := s.flush(ctx, blocks, summary)

	<-launched
	if waitErr := g.Wait(); err == nil && waitErr != nil {
		err = waitErr
	}

	summary.Duration = time.Since(startedAt)
	if err != nil {
		logger.Warn("Scan aborted",
			zap.Int("windows_scanned", summary.WindowsScanned),
			zap.Error(err))
		return summary, err
	}

	logger.Info("Scan completed",
		zap.Int("trails", summary.Trails),
		zap.Int("windows_scanned", summary.WindowsScanned),
		zap.Int("windows_failed", summary.WindowsFailed),
		zap.Int("days_found", summary.DaysFound),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// plan lays out the report: a header block per trail followed by one block
// per month window
func (s *Scanner) plan(parks []catalog.Park, windows []dateutil.MonthWindow) ([]*block, []job) {
	var blocks []*block
	var jobs []job

	for _, park := range parks {
		for _, trail := range park.Trails() {
			header := newBlock()
			header.lines.WriteLine("")
			report.Printf(&header.lines, "Checking trail '%s' (ID: %d) in park '%s' (ID: %d)...",
				trail.Name, trail.ID, park.Name, park.ID)
			close(header.done)
			blocks = append(blocks, header)

			for _, w := range windows {
				b := newBlock()
				b.window = true
				blocks = append(blocks, b)
				jobs = append(jobs, job{park: park, trail: trail, window: w, out: b})
			}
		}
	}

	return blocks, jobs
}

// flush writes blocks to the sink in order as each one completes
func (s *Scanner) flush(ctx context.Context, blocks []*block, summary *Summary) error {
	for _, b := range blocks {
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		b.lines.FlushTo(s.sink)
		if !b.window {
			summary.Trails++
			continue
		}
		summary.WindowsScanned++
		if b.failed {
			summary.WindowsFailed++
		}
		summary.DaysFound += b.days
	}
	return nil
}

// scanWindow fetches and filters one month for one trail under fetchCtx.
// Only a done ctx produces an error; fetch failures, including an expired
// fetchCtx, are reported into the block.
func (s *Scanner) scanWindow(ctx, fetchCtx context.Context, j job, today time.Time, logger *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w := &j.out.lines
	start, end := j.window.StartString(), j.window.EndString()
	report.Printf(w, "Checking availability from %s to %s...", start, end)

	resp, err := s.fetcher.FetchAvailability(fetchCtx, w, j.park.ID, j.window.Start, j.window.End)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		report.Printf(w, "Failed to fetch data for the period from %s to %s.", start, end)
		logger.Warn("Window fetch failed",
			zap.String("park", j.park.Name),
			zap.String("trail", j.trail.Name),
			zap.String("window", j.window.String()),
			zap.Error(err))
		j.out.failed = true
		close(j.out.done)
		return nil
	}

	days := availability.Filter(resp, j.trail.ID, s.opts.MinSpots, today)
	if len(days) == 0 {
		report.Printf(w, "No days with at least %d remaining spots from %s to %s.", s.opts.MinSpots, start, end)
	} else {
		report.Printf(w, "Days with at least %d remaining spots from %s to %s:", s.opts.MinSpots, start, end)
		for _, date := range availability.SortedDates(days) {
			day := days[date]
			report.Printf(w, "%s (%s): %d spots available", day.Date, day.DayOfWeek, day.Remaining)
		}
	}

	logger.Debug("Window scanned",
		zap.String("park", j.park.Name),
		zap.String("trail", j.trail.Name),
		zap.String("window", j.window.String()),
		zap.Int("days_found", len(days)))

	j.out.days = len(days)
	close(j.out.done)
	return nil
}
