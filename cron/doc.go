// Package cron fires recurring submissions.
//
// An [Entry] names a registered job and a static payload. The [Scheduler]
// holds entries in memory, checks them on every tick, enqueues the job of
// each due entry and moves NextRunAt forward. Schedules use the standard
// five-field syntax or descriptors such as "@every 1h" and "@daily".
//
// Entries are not persisted and there is no leader election: enable cron
// on exactly one instance (gmpreport.WithCron).
//
//	engine.RegisterCron(eng, cron.NewDefinition("daily-spend", "0 6 * * *",
//	    "reports:launch-spend", SpendInput{Advertiser: "42"}))
package cron
