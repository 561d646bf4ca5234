// Package janitor runs periodic sweeps of the TTL registries.
package janitor

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper evicts expired entries and reports how many went.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type job struct {
	name    string
	sweeper Sweeper
}

// Janitor schedules sweepers on cron specs. Overlapping runs of the same
// job are skipped.
type Janitor struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu   sync.Mutex
	jobs []job
	ctx  context.Context
}

func New(logger zerolog.Logger) *Janitor {
	adapter := cronLogger{logger: logger}
	return &Janitor{
		cron: cron.New(cron.WithChain(
			cron.Recover(adapter),
			cron.SkipIfStillRunning(adapter),
		)),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add schedules s under spec, e.g. "@every 1m".
func (j *Janitor) Add(name, spec string, s Sweeper) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return err
	}
	jb := job{name: name, sweeper: s}
	if _, err := j.cron.AddFunc(spec, func() { j.run(j.context(), jb) }); err != nil {
		return err
	}
	j.mu.Lock()
	j.jobs = append(j.jobs, jb)
	j.mu.Unlock()
	return nil
}

// Start begins scheduling. Jobs see ctx until Stop.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	j.ctx = ctx
	j.mu.Unlock()
	j.cron.Start()
	j.logger.Info().Int("jobs", len(j.jobs)).Msg("janitor started")
}

// Stop halts scheduling and waits for running sweeps.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info().Msg("janitor stopped")
}

// RunOnce runs every registered sweep synchronously and returns the total
// evicted.
func (j *Janitor) RunOnce(ctx context.Context) int {
	j.mu.Lock()
	jobs := append([]job(nil), j.jobs...)
	j.mu.Unlock()

	total := 0
	for _, jb := range jobs {
		total += j.run(ctx, jb)
	}
	return total
}

func (j *Janitor) run(ctx context.Context, jb job) int {
	evicted, err := jb.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error().Err(err).Str("job", jb.name).Msg("sweep failed")
		return 0
	}
	if evicted > 0 {
		j.logger.Debug().Str("job", jb.name).Int("evicted", evicted).Msg("sweep")
	}
	return evicted
}

func (j *Janitor) context() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ctx
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
