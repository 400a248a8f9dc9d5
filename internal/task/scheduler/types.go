package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"finpipe/internal/eventbus"
	logx "finpipe/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Job is one scheduled unit of work. ctx carries the job timeout.
type Job func(ctx context.Context) error

const defaultHistorySize = 50

type scheduleDef struct {
	name    string
	spec    string // normalized cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	now func() time.Time

	parser  cron.Parser
	c       *cron.Cron
	defs    []scheduleDef
	started bool
	baseCtx context.Context

	hmu     sync.Mutex
	history []Run
}

// Run records one finished job execution.
type Run struct {
	Name    string        `json:"name"`
	Trigger string        `json:"trigger"` // "schedule" | "manual"
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []Run          `json:"history"`
}
