package redis

// keys is the namespace prefix, with one method per key family.
type keys string

const defaultPrefix keys = "gmpreport:"

// job returns the Hash key for a job.
func (k keys) job(id string) string { return string(k) + "job:" + id }

// queue returns the Sorted Set of due times for a queue.
func (k keys) queue(name string) string { return string(k) + "queue:" + name }

// queues is the Set of every queue name seen by EnqueueJob.
func (k keys) queues() string { return string(k) + "queues" }

// jobIDs is the Set of every job ID, for enumeration.
func (k keys) jobIDs() string { return string(k) + "job_ids" }

// dlq returns the Hash key for a dead letter entry.
func (k keys) dlq(id string) string { return string(k) + "dlq:" + id }

// dlqIndex is the Sorted Set of entry IDs scored by failure time.
func (k keys) dlqIndex() string { return string(k) + "dlq_ids" }

// credential returns the String key holding an account's token.
func (k keys) credential(account string) string { return string(k) + "credential:" + account }
