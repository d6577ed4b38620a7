// Package abbrobot provides a dual-plane client stack for industrial robot
// controllers.
//
// # Two planes
//
// Control plane (package rws): request/response over HTTP against the
// controller's resource model, plus event subscriptions delivered over a
// persistent websocket connection. The subscription multiplexer turns the
// inbound push stream into addressable, bounded, per-subscription event
// channels layered on top of the synchronous request API.
//
// Streaming plane (package egm): a real-time, cycle-synchronous exchange of
// fixed-layout binary frames over a connectionless transport. Each controller
// cycle delivers one sensor frame (measured joint and cartesian state) and
// accepts one command frame (motion correction) in return. The session tracks
// sequence continuity, detects controller-side restarts, and enforces a
// strict one-in-one-out frame discipline.
//
// # Architecture
//
//	┌──────────────────────────────┐   ┌──────────────────────────────┐
//	│      rws.Client              │   │      egm.Session             │
//	│  login / request / subscribe │   │  bind / next / send / stop   │
//	└──────────────┬───────────────┘   └──────────────┬───────────────┘
//	               │ owns                             │ uses
//	┌──────────────▼───────────────┐   ┌──────────────▼───────────────┐
//	│      rws.Multiplexer         │   │  egm codec + egm.Tracker     │
//	│  dispatch → bounded queues   │   │  decode, classify sequence   │
//	└──────────────────────────────┘   └──────────────────────────────┘
//
// Transports are collaborators consumed through interfaces: HTTP execution
// behind rws.Transport, push delivery behind rws.EventStream, and datagram
// I/O behind net.PacketConn. Default adapters over net/http and
// gorilla/websocket are included.
//
// Supporting packages: errors (classified error taxonomy), metric
// (Prometheus registry wrapper), config (YAML configuration), pkg/buffer
// (bounded buffers with overflow policies), pkg/retry (exponential backoff),
// pkg/timestamp (Unix-millisecond timestamps).
package abbrobot
