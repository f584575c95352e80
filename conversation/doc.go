// Package conversation provides conversation state store implementations.
//
// A conversation is an append-only turn log plus a single suspension slot
// naming the one remote sub-task currently waiting for user input. The
// in-memory store is the only implementation; state does not outlive the
// process.
package conversation
