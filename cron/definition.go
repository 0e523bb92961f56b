package cron

// Definition is a typed cron definition. T is the payload type and must
// round-trip through the engine codec.
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "0 6 * * *" or "@every 1h").
	Schedule string

	// JobName is the name of the job to enqueue on each tick.
	JobName string

	// Payload is enqueued with every job.
	Payload T

	// Queue overrides the job's default queue (optional).
	Queue string
}

// NewDefinition creates a typed cron definition.
func NewDefinition[T any](name, schedule, jobName string, payload T) *Definition[T] {
	return &Definition[T]{Name: name, Schedule: schedule, JobName: jobName, Payload: payload}
}
