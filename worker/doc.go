// Package worker provides the main loop for running LAPS modules as
// broker-backed workers.
//
// # Overview
//
// A module is a process that serves one pathfinding capability. The
// worker package owns everything around the module author's handler:
// announcing the module to the backend, blocking on the job queue,
// decoding envelopes, reporting results, and shutting down cleanly.
//
// # Usage
//
// To run a module:
//
//	func main() {
//	    cfg, err := worker.LoadConfigFromCurrentDir()
//	    if err != nil {
//	        fmt.Fprintln(os.Stderr, err)
//	        os.Exit(1)
//	    }
//
//	    err = worker.Run(context.Background(), worker.Options{
//	        Config:  cfg,
//	        Handler: handle,
//	    })
//	    if err != nil {
//	        fmt.Fprintln(os.Stderr, err)
//	        os.Exit(1)
//	    }
//	}
//
// # Job Lifecycle
//
// The runner serves one job at a time:
//  1. Block on the module's work queue.
//  2. Decode the envelope's job id.
//  3. Invoke the handler.
//  4. Report exactly one result for the job.
//  5. Check for a requested shutdown, then block again.
//
// The result for a job is always reported before the next job is
// dequeued.
//
// # Error Policy
//
// Handler errors fall into two tiers:
//   - A JobFailure (see laps.Failf) marks the job as failed and the
//     worker keeps serving; the job was bad, not the process.
//   - Any other error marks the job as failed and then stops the
//     worker.
//
// Broker transport errors are fatal wherever they occur. There is no
// retry layer; supervisors restart the process.
//
// # Graceful Shutdown
//
// SIGINT and SIGTERM stop the worker:
//   - While blocking on the queue, the worker exits immediately.
//   - While processing, the in-flight job finishes and its result is
//     reported first.
//
// On every exit path after registration the worker pushes a shutdown
// notice so the backend can drop it from the module roster.
//
// # Broker Key Schema
//
// Workers interact with the broker using the following keys, with a
// test-mode prefix swap applied to each (see the laps key helpers):
//   - laps.runner.<name>:<version>.work - job queue (BRPOP)
//   - laps.backend.register-module - registration tokens (RPUSH)
//   - laps.backend.module-shutdown - shutdown notices (RPUSH)
//   - laps.backend.path-results - result queue (LPUSH)
//   - laps.moduleLogs - shared log stream (RPUSH)
package worker
