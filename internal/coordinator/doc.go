// Package coordinator implements the control plane of a training job:
// process registration, topology publication, the end-of-training barrier
// and liveness monitoring.
//
// # Overview
//
// A job is a fixed set of server processes and worker processes. Each
// registers with the coordinator on startup and receives a rank, a role
// and a role-local id. Once every expected process has registered the
// topology is marked ready; servers then build their shards and workers
// build their table proxies from the published server addresses.
//
//	┌──────────────────────────────────────┐
//	│             COORDINATOR              │
//	├──────────────────────────────────────┤
//	│  Registry                            │
//	│    id → rank, role, server/worker id │
//	│    topology (servers by server id)   │
//	│    barrier (workers arrived)         │
//	├──────────────────────────────────────┤
//	│  HealthMonitor                       │
//	│    GET {addr}/health every interval  │
//	│    unhealthy after 3 failed probes   │
//	└──────────────────────────────────────┘
//	        ▲ register        ▲ barrier
//	        │                 │
//	   ┌────┴────┐       ┌────┴────┐
//	   │ servers │◄──────│ workers │
//	   └─────────┘ blobs └─────────┘
//
// The coordinator never sees table traffic. Workers talk to servers
// directly over the transport package.
//
// # Registration
//
// Server ids and worker ids are dense and assigned in registration order;
// server id s owns shard s of every table. A process registering with the
// "default" role takes a server slot while any remain, then a worker slot.
// Registration is idempotent per node id.
//
// # Barrier
//
// After training, each worker tells every server it has finished and then
// arrives at the barrier. Worker 0 waits for release before saving the
// embedding, so the saved rows include every worker's updates.
//
// # Failure model
//
// There is no recovery. The health monitor only reports: a lost server
// stalls every worker, and under the synchronous protocol a lost worker
// stalls the others too.
package coordinator
