/*
Package log configures the process-wide zerolog logger.

Commands call Init exactly once, before anything else runs; every other
package hangs its logger off the root through WithComponent. Until Init
runs the root logger is the zero value and discards everything, which
keeps package construction in tests silent without any stubbing.

# Architecture

	             Init(Config)                  WithComponent(name)
	                  │                               │
	                  ▼                               ▼
	   ┌───────────────────────────┐   ┌─────────────────────────────┐
	   │        Root Logger        │──▶│      Component children     │
	   │  level from DG_LOG_LEVEL  │   │  api / gateway / connection │
	   │  format from DG_LOG_JSON  │   │  scheduler / main           │
	   └────────────┬──────────────┘   └──────────────┬──────────────┘
	                │                                 │
	                ▼                                 ▼
	   ┌───────────────────────────┐   ┌─────────────────────────────┐
	   │   JSON lines (default)    │   │   Console records (dev)     │
	   │   one object per record   │   │   zerolog.ConsoleWriter     │
	   └───────────────────────────┘   └─────────────────────────────┘

# Initialization

The serve command wires the logger straight from configuration:

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

Level names are parsed by zerolog, so anything zerolog understands
(including "trace" and "disabled") is accepted; an unrecognised name
degrades to info instead of aborting startup. Output defaults to
stdout. The level is applied globally, so children created before Init
still honour it.

New builds a standalone logger for code that should not touch the
global, such as auxiliary binaries writing console output:

	logger := log.New(os.Stderr, false)

# Component loggers

Each subsystem takes one child at construction and attaches its own
context per call:

	logger := log.WithComponent("connection")

	logger.Info().
		Str("network_id", network.ID).
		Str("node_id", node.ID).
		Msg("Websocket established")

By convention the identifying fields are component, network_id,
node_id and message_id, always as typed fields rather than formatted
into the message. That keeps records queryable and makes peer-supplied
values safe to log.

# Output

JSON, one record per line, as shipped to aggregators:

	{"level":"info","component":"connection","network_id":"net-1","node_id":"node-2","time":"2026-08-24T10:30:01Z","message":"Websocket established"}

Console, for a developer terminal:

	10:30:01 INF Websocket established component=connection network_id=net-1 node_id=node-2

# What not to log

Key material never appears in records: the kms package logs key names
and versions only. Challenge solutions, signatures and vault tokens are
likewise omitted rather than redacted, so there is nothing to scrub
downstream.
*/
package log
