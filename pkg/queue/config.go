package queue

import "time"

// Config holds the task queue settings, read from QUEUE_* variables.
//
// Queues lists the queue names a worker polls. LockTimeout bounds a single
// handler run; a task whose lock expires is handed to another worker.
// RetryBackoff is the step of the linear retry delay and MaxAttempts the
// number of runs before a task moves to the dead letter queue.
//
// Example:
//
//	var cfg queue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	worker, err := queue.NewWorker(storage, cfg.WorkerOptions()...)
type Config struct {
	Queues             []string      `env:"QUEUE_NAMES" envDefault:"default" envSeparator:","`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	RetryBackoff       time.Duration `env:"QUEUE_RETRY_BACKOFF" envDefault:"30s"`
	MaxAttempts        int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"4"`
	RedisPrefix        string        `env:"QUEUE_REDIS_PREFIX" envDefault:"photovault:queue"`
}

// WorkerOptions converts cfg into worker options.
func (cfg Config) WorkerOptions() []WorkerOption {
	return []WorkerOption{
		WithQueues(cfg.Queues...),
		WithPollInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithBackoff(cfg.RetryBackoff),
		WithConcurrency(cfg.MaxConcurrentTasks),
	}
}
