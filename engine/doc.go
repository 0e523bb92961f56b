// Package engine wires the runtime subsystems together and is the
// application-level API for registering and enqueuing work.
//
// The package sits above the subsystem packages so the root package,
// which they all import, never has to import them back.
//
// # Building an Engine
//
//	rt, err := gmpreport.New(
//	    gmpreport.WithStore(pgStore),
//	    gmpreport.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(rt,
//	    engine.WithCodec(codec.Msgpack{}),
//	    engine.WithAccountConfig(queue.AccountConfig{
//	        Account:   "agency-7",
//	        RateLimit: 2,
//	    }),
//	)
//
// # Awaiting Remote Tasks
//
// *Engine implements await.Scheduler. A poller built on it reschedules
// itself as a continuation of the running job, so the attempt counter
// carries across deliveries and the job's ceiling bounds the whole wait:
//
//	poller := await.NewPoller(eng, broker)
//	poller.Register(dbm.Kind, dbmClient)
//	poller.Install(eng.Registry())
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: set the retry delay strategy for failed deliveries
//   - [WithCodec]: set the payload codec
//   - [WithQueueConfig], [WithAccountConfig]: rate limits and concurrency
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
