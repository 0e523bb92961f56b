package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook.
const (
	ActionJobEnqueued    = "job.enqueued"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobRescheduled = "job.rescheduled"
	ActionJobFailed      = "job.failed"
	ActionJobRetrying    = "job.retrying"
	ActionJobDLQ         = "job.dlq"
	ActionCronFired      = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryJob  = "gmpreport.job"
	CategoryCron = "gmpreport.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob  = "job"
	ResourceCron = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRescheduled,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionCronFired,
	}
}
