/*
Package demandd runs demand decorators for resource pools.

A pool is anything that can be asked for a demand and reports back its supply,
utilisation and allocation. Decorators wrap a pool to change how demand reaches
it: the buffer stage coalesces updates into windows, the stopper stage holds
demand at zero while a Slurm partition has no pending jobs. Decorators that
need background work register it as a service payload.

# Runners

Payloads run on one of three flavours:

  - thread: every payload gets its own OS thread. Blocking work goes here.
  - loop-a and loop-b: cooperative event loops (see package loop). Payloads
    on the same loop never run in parallel, so they can share state.

The MetaRunner in package runner owns one runner per flavour. Services are
expected to run until cancelled: one that fails, panics or returns a value
nobody can receive brings down the whole MetaRunner. RunOne executes a single
payload on a flavour and hands back its result, which is how the status API
reads and writes demand safely from HTTP handlers.

# Usage

The demandd command builds everything from a YAML file:

	log:
	  level: info
	http:
	  addr: ":9100"
	pool:
	  type: redis
	  options: {addr: "localhost:6379", key: "site:pool"}
	pipeline:
	  - type: buffer
	    options: {window: 10s}
	  - type: stopper
	    options: {partition: gpu, interval: 5m}

and is started with

	demandd run --config demandd.yaml

Library users wire the same parts directly:

	mr := runner.NewMetaRunner()
	buf, err := decorator.NewBuffer(pool.NewStatic(0), decorator.BufferConfig{}, mr)
	if err != nil {
		log.Fatal(err)
	}
	buf.SetDemand(4)
	if err := mr.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package demandd

// Version is set at build time with -ldflags "-X github.com/aretw0/demandd.Version=...".
var Version = "dev"
