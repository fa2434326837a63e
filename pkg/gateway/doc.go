// Package gateway serves the chat orchestrator as JSON-RPC 2.0.
//
// Requests arrive either as single POSTs to /rpc or as text frames on a
// /ws WebSocket, where several requests may be in flight at once and
// conversation change events are pushed to every connected client.
package gateway
