// Package cluster holds the types and HTTP helpers shared by the coordinator,
// the parameter servers and the workers.
//
// # Overview
//
// A training job is a set of processes that find each other through one
// coordinator:
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │ - Registry   │
//	              │ - Barrier    │
//	              │ - Health Mon │
//	              └──────┬───────┘
//	                     │ register / topology / barrier (JSON)
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│ Server 0  │  │ Server 1  │  │ Worker 0  │ ...
//	│ shard 0   │  │ shard 1   │  │ proxies   │
//	└───────────┘  └───────────┘  └───────────┘
//	      ▲              ▲              │
//	      └──────────────┴──────────────┘
//	         table requests (binary blobs)
//
// # Registration
//
// Each process posts a RegisterRequest carrying its address and Role. The
// coordinator assigns ranks in registration order, and consecutive server
// or worker ids per role. Processes then poll the Topology until Ready, and
// build an Identity from their own NodeInfo and the topology. The Identity
// is passed explicitly to every component that logs or addresses peers.
//
// # Communication
//
// Control traffic is JSON over HTTP through PostJSON and GetJSON, which use
// a client with a short timeout. Table traffic uses PostBlob: raw blobs as
// application/octet-stream with the worker id in the X-Worker-ID header.
// Its client has no timeout, since a consistency controller may hold a
// request until slower workers catch up.
//
// # Failure Model
//
// There is no recovery. A process that loses contact with a peer logs the
// failure with its identity and exits.
package cluster
