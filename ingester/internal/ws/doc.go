// Package ws streams cluster report snapshots to WebSocket clients.
//
// Clients receive the current snapshot on connect, then one message per
// broadcast tick and one whenever a cycle finishes (Hub.Notify). Messages use
// the envelope {"event": "snapshot", "data": api.SnapshotResponse}.
package ws
