/*
Package runner multiplexes payloads written for different concurrency models into
one process lifecycle.

Three flavours are supported. Thread payloads each run on a dedicated OS thread.
LoopA and LoopB payloads run as cooperative tasks on two independent event loops
(see package loop), each hosted on its own OS thread.

# Key Components

  - ThreadRunner: one goroutine, locked to its OS thread, per service payload.
  - EventLoopRunner: one loop.Loop per cooperative flavour, with a blocking RunOne bridge.
  - MetaRunner: creates runners on demand and stops all of them as soon as one fails.

# Services and failures

A registered payload is a service: it must keep running until its context is
cancelled. A service that returns an error fails its runner with that error.
A service that returns a result instead fails it with an *OrphanedReturn, and a
panic is reported as a *PanicError. On every flavour a payload may also run to
completion by returning (nil, nil); that is not a failure.

The first failure cancels every other payload of the runner, and the MetaRunner
then stops all remaining runners and returns an *AbortError carrying that cause.

# Usage

	mr := runner.NewMetaRunner(runner.WithLogger(logger))
	_ = mr.Register(refresh, runner.LoopA, "refresh")

	go func() {
		<-shutdown
		mr.Stop()
	}()

	if err := mr.Run(ctx); err != nil {
		var abort *runner.AbortError
		if errors.As(err, &abort) {
			log.Printf("payload %s on %s failed: %v", abort.Payload, abort.Flavour, abort.Cause)
		}
	}
*/
package runner
