// Package gmpreport submits long-running remote report and export jobs,
// waits for them to finish, and hands the finished artifact to a result job.
//
// Waiting never blocks a goroutine. An await job checks the remote status
// once per delivery and either dispatches the result job, fails permanently,
// or asks the runtime to deliver it again after an exponentially growing
// delay:
//
//	delay = 60s + 3^attempt seconds
//
// # Quick Start
//
//	rt, err := gmpreport.New(
//	    gmpreport.WithStore(memory.New()),
//	    gmpreport.WithQueues([]string{"default", "results"}),
//	)
//	events := stream.NewBroker(logger)
//	eng, err := engine.Build(rt,
//	    engine.WithAccountConfig(queue.AccountConfig{Account: "agency-7", RateLimit: 1, RateBurst: 5}),
//	    engine.WithExtension(events),
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
//	broker := credential.NewBroker(oauthConfig, credential.WithStore(eng.Credentials()))
//	reports := dbm.New()
//
//	poller := await.NewPoller(eng, broker)
//	poller.Register(dbm.Kind, reports)
//	poller.Install(eng.Registry())
//	await.ResultHandler(eng.Registry(), "reports:import", importReport)
//
//	spec, _ := dbm.NewSpec(query)
//	result, _ := await.NewResultSpec("reports:import", "results", advertiserID)
//	launcher := await.NewLauncher(poller, await.WithAccountLimits(eng.QueueManager()))
//	task, err := launcher.Launch(ctx, reports, credential.Ref{Account: "agency-7"}, spec, result)
//
//	// Block until the lineage completes or lands in the DLQ. Events published
//	// before WatchChain are not replayed.
//	final, err := events.Wait(ctx, events.WatchChain(task.Chain))
//
// # Architecture
//
// The root package holds the runtime (store, worker pool, configuration).
// The engine package wires the job registry, middleware, executor and pool
// and implements await.Scheduler on top of them. The core packages
// (backoff, credential, remote, await) depend only on interfaces.
// Backends live under store/: memory, redis, postgres (pgx), bun and mongo.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package gmpreport
