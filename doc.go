// Package dockhost turns logical hosts into throwaway containers.
//
// Each host of an orchestration run is backed by one container, created on
// first use and labeled with the run identity and the hostname. Commands run
// inside it through the runtime's exec API, and single files move in and out
// as one-entry tar archives rather than through a mounted filesystem.
// Containers outlive the connections that use them and are removed together
// when the run ends.
//
//   - Run: the run identity, shared runtime client and cleanup
//   - Binder: label-based (run, host) to container resolution
//   - Connection: connect, exec, put, fetch and close for one host
//
// # Quick Start
//
//	rt, err := container.NewDocker()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	run := dockhost.NewRun(rt)
//	defer run.Cleanup(context.Background())
//
//	conn, err := run.Connection("foobar", "node:alpine")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	res, err := conn.Exec(ctx, "touch /bar && cat /bar", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.ExitCode)
//
// # Errors
//
// Every failure matches one of ErrBadArgument, ErrNotFound or
// ErrConnectionFailure under errors.Is. Nothing is retried.
//
// # Exit codes
//
// When the runtime reports no exit code for a finished command, Exec
// returns 0.
//
// # Concurrency
//
// Connections are per host and not safe for concurrent use. A Run and its
// Binder may be shared across goroutines. Resolve serializes first use of a
// (run, host) pair inside one process; containers created concurrently by
// separate processes are tolerated, and every resolver then picks the
// oldest. Cleanup must only run once no task of the run is in flight.
package dockhost
