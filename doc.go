// Package laps provides the worker runtime for LAPS, a pathfinding
// service that distributes jobs to independently developed modules
// through a Redis broker.
//
// A module is a process that announces itself to the LAPS backend,
// blocks on its private work queue, runs a handler for every job it
// receives, and reports exactly one result per job. This package holds
// the vocabulary shared by every component: module identities, the
// error taxonomy, and the broker key naming scheme.
//
// # Packages
//
// The runtime is split along the seams of the wire protocol:
//
//   - laps (this package): identities, errors, and key naming
//   - broker: the Redis client every component talks through
//   - diag: structured log records mirrored to the console and pushed
//     onto the shared module log stream
//   - result: job outcomes and the reporter that delivers them
//   - mapdata: read-only access to the height maps jobs refer to
//   - worker: configuration, the job envelope, and the Runner that owns
//     the register/dequeue/handle/report lifecycle
//
// # Writing a module
//
// A minimal module loads its configuration, defines a handler, and
// hands both to worker.Run:
//
//	cfg, err := worker.LoadConfigFromCurrentDir()
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = worker.Run(ctx, worker.Options{
//		Config: cfg,
//		Handler: func(ctx context.Context, r *worker.Runner, job *worker.Job) (any, error) {
//			var req PathRequest
//			if err := job.Decode(&req); err != nil {
//				return nil, err
//			}
//			return solve(req), nil
//		},
//	})
//
// The handler's return value becomes the points field of a success
// result. Returning a *JobFailure rejects the one job and keeps the
// worker alive; any other error is treated as a defect in the module
// and crashes the process after a failure result is reported, so a
// supervisor can restart it.
//
// # Shutdown
//
// SIGINT and SIGTERM stop the worker. If the runner is blocked waiting
// for work it exits immediately; if a handler is running, the signal is
// honored only after that job's result has been reported. On every exit
// path a registered worker pushes a shutdown notice so the backend can
// free its slot.
//
// # Test mode
//
// Setting test_mode in module.yaml swaps every broker key into the
// laps.testing / laps.test.runner namespace so integration tests never
// touch production queues.
package laps
