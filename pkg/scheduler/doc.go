/*
Package scheduler runs the gateway's recurring maintenance jobs.

Federation state converges through periodic work rather than callbacks:
each registered network gossips its membership and data index on a long
interval, and admission requests whose counterpart could not push a
decision are polled until they resolve. This package owns the loops;
the work itself lives in pkg/gateway.

# Architecture

	┌───────────────────── SCHEDULER ─────────────────────┐
	│                                                      │
	│   Job: network-sync        Job: admission-poll       │
	│   every 24h ± jitter       every 5m                  │
	│        │                        │                    │
	│        ▼                        ▼                    │
	│   Engine.SyncAll           Engine.PollPendingRequests│
	│   (gossip membership       (re-present challenge,    │
	│    and data index on        collect stored           │
	│    every network)           decisions)               │
	└──────────────────────────────────────────────────────┘

Each job runs in its own goroutine: first after a random delay up to
its jitter, then on every tick of its interval. The jitter matters when
a fleet of gateways restarts together; without it they would all gossip
at the same instant against the same peers.

# Usage

	sched := scheduler.NewScheduler(
		scheduler.Job{
			Name:     "network-sync",
			Interval: 24 * time.Hour,
			Jitter:   5 * time.Minute,
			Run:      engine.SyncAll,
		},
		scheduler.Job{
			Name:     "admission-poll",
			Interval: 5 * time.Minute,
			Run:      engine.PollPendingRequests,
		},
	)
	sched.Start()
	defer sched.Stop()

Stop cancels the shared context and waits for every loop to return, so
a job observing its context shuts down mid-run.

# Failure Handling

A failing run is logged at warn level and the loop keeps its cadence.
Gossip and polling both tolerate individual peers being down; a crashed
peer must not stop the next cycle from reaching the rest of the
network.

# See Also

  - pkg/gateway for SyncAll and PollPendingRequests
  - cmd/dedi-gateway for the production job set
*/
package scheduler
