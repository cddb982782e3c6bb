// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker is the pipeline's composition root.
//
// A [Tracker] accepts events from the host application and from
// plugins, classifies their urgency, and routes them: critical or
// explicitly immediate events are dispatched before Track returns;
// low-priority types are deferred to an idle task that later enqueues
// them; everything else waits in the priority queue for the periodic
// flush. Failed XHR dispatches are retried through the same routing
// until an event runs out of attempts.
//
// The tracker owns its collaborators (queue store, idle scheduler,
// transport client, sandbox, plugin manager, interceptor registry) and
// builds them from one [Config]. Nothing is package-global, so tests
// run as many independent trackers as they like.
package tracker
