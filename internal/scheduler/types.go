package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "huginn/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means host local
}

// Job is the callback invoked when a schedule fires. The context is the
// service's run context; it is cancelled on Stop.
type Job func(ctx context.Context) error

type recurringDef struct {
	name    string
	spec    string
	job     Job
	entryID cron.EntryID
}

// Service owns the cron runner and the one-shot timer table. All schedules
// are keyed by task name; registering an existing name replaces the previous
// schedule.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []recurringDef

	// run context for job callbacks; set by Start, cancelled by Stop.
	runCtx context.Context
	cancel context.CancelFunc

	// one-shot timers. Timers are runtime state; onceAt/onceJob are the
	// persistent definitions rebuilt on restart. onceVer fences stale
	// callbacks from replaced timers.
	tmu     sync.Mutex
	timers  map[string]*time.Timer
	onceAt  map[string]time.Time
	onceJob map[string]Job
	onceVer map[string]uint64
}

// EntryInfo describes a registered schedule for status output.
type EntryInfo struct {
	Name string
	Spec string    // cron spec, empty for one-shot entries
	At   time.Time // fire time for one-shot entries, next run for recurring
}
