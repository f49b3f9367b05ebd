// Package nats exposes a camera's relay on a NATS bus.
//
// # Architecture
//
//   - Server: optional embedded NATS server (sinkcam serve --nats-embedded)
//   - Bridge: mirrors relay events to NATS and applies control requests
//   - ControlClient: operator side, used by "sinkcam control"
//
// # Subject Hierarchy
//
//	sinkcam.{camera}.state             # relay state transitions
//	sinkcam.{camera}.observers         # observer count changes
//	sinkcam.{camera}.clients           # producer/consumer attach and detach
//	sinkcam.{camera}.depth             # depth clip changes
//	sinkcam.{camera}.control.warning   # request: {"text": "..."} or {"clear": true}
//	sinkcam.{camera}.control.depth     # request: {"clip_near": 300, "clip_far": 4000}
//
// Control subjects answer with {"ok": true} or {"ok": false, "error": "..."}
// when the request carries a reply subject. Events are core NATS publishes,
// there is no JetStream persistence.
//
// # Debugging with nats CLI
//
//	nats sub "sinkcam.>"
//	nats request sinkcam.front.control.warning '{"text":"LENS FOGGED"}'
//	nats request sinkcam.front.control.depth '{"clip_near":300,"clip_far":2500}'
package nats
