// Package chat implements the conversation session orchestrator.
//
// Every operation that touches one conversation runs inside that
// conversation's lane, so the session cache and the durable store are
// only mutated by the lane holder. The cache is a materialization of the
// store and can be dropped at any time; the store is the record.
package chat
