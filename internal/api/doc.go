// Package api serves the daemon's HTTP surface: JSON status and volume
// endpoints plus a WebSocket push channel for device notifications.
//
// # Endpoints
//
// GET /api/status: DaemonStatus snapshot.
//
// GET /api/volumes and GET /api/volumes/{id}: the live volume set.
//
// GET /api/events: upgrades to a WebSocket. Clients send
// {"op":"subscribe","name":"volumeAttached"} or {"op":"unsubscribe",...}
// and receive one Frame per notification, in watcher order. Subscription
// changes are acknowledged with a "subscribed" or "unsubscribed" frame.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Errors
// carry the taxonomy code in a separate field so clients never parse
// messages. Slow WebSocket clients are disconnected rather than allowed to
// stall the watcher's event delivery.
package api
