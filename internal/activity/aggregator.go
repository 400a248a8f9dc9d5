package activity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"finpipe/internal/eventbus"
	"finpipe/internal/fanout"
	logx "finpipe/pkg/logx"
)

// ErrAllSourcesFailed is the only error Aggregate surfaces to users.
var ErrAllSourcesFailed = errors.New("Failed to load activity data")

// SourceError records one source that could not be read.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string { return fmt.Sprintf("activity source %s: %v", e.Source, e.Err) }
func (e SourceError) Unwrap() error { return e.Err }

type Options struct {
	// Timeout bounds the whole fan-out group. Zero means no bound beyond ctx.
	Timeout time.Duration
	Now     func() time.Time
	Bus     eventbus.Bus
}

// Aggregator builds an owner's activity timeline from independent sources.
type Aggregator struct {
	sources []Source
	log     logx.Logger
	opts    Options
	timeout atomic.Int64
}

func NewAggregator(sources []Source, log logx.Logger, opts Options) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Aggregator{
		sources: sources,
		log:     log.With(logx.String("comp", "activity")),
		opts:    opts,
	}
	a.timeout.Store(int64(opts.Timeout))
	return a
}

// SetTimeout updates the group timeout on config reload.
func (a *Aggregator) SetTimeout(d time.Duration) { a.timeout.Store(int64(d)) }

// Aggregate fetches every source concurrently and merges the results newest
// first. Items from the same instant keep source order. A source failure
// only drops that source's items; ErrAllSourcesFailed is returned when none
// could be read.
func (a *Aggregator) Aggregate(ctx context.Context, ownerID string) (Feed, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := time.Duration(a.timeout.Load()); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tasks := make([]fanout.Task[[]Item], len(a.sources))
	for i, src := range a.sources {
		src := src
		tasks[i] = func(ctx context.Context) ([]Item, error) {
			return src.Fetch(ctx, ownerID)
		}
	}
	results := fanout.Settle(ctx, 0, tasks...)

	var (
		items    []Item
		failures []SourceError
	)
	for i, r := range results {
		if r.Err != nil {
			se := SourceError{Source: a.sources[i].Kind(), Err: r.Err}
			failures = append(failures, se)
			a.log.Warn("activity source failed",
				logx.String("owner", ownerID),
				logx.String("source", se.Source),
				logx.Err(r.Err),
			)
			eventbus.Emit(a.opts.Bus, eventbus.TopicActivitySourceFailed, se)
			continue
		}
		items = append(items, r.Value...)
	}

	if len(a.sources) > 0 && len(failures) == len(a.sources) {
		a.log.Error("all activity sources failed", logx.String("owner", ownerID))
		return Feed{Failures: failures}, ErrAllSourcesFailed
	}

	SortNewestFirst(items)
	if items == nil {
		items = []Item{}
	}
	feed := Feed{
		Items:    items,
		Stats:    ComputeStats(items, a.opts.Now()),
		Failures: failures,
	}
	eventbus.Emit(a.opts.Bus, eventbus.TopicActivityAggregated, map[string]any{
		"owner":  ownerID,
		"items":  len(items),
		"failed": len(failures),
	})
	return feed, nil
}

// SortNewestFirst orders by Date descending, keeping input order on ties.
func SortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.After(items[j].Date)
	})
}
