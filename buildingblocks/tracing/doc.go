// Package tracing records handler execution as a tree of Records and
// persists them off the business path.
//
// Producers call Queue.Write, which never blocks and never fails: the record
// goes onto a lock-free multi-producer queue and the single drain loop is
// woken through a one-slot channel. The loop persists every record through a
// Store and swallows storage failures after logging and counting them.
//
// Middleware plugs the queue into a consumer.Router: it writes an Executing
// record when a handler starts and a Success or Fail record when it returns.
// Records share a trace id and link to the record of the handler that
// caused them through ParentID; BuildTree reassembles the lineage.
package tracing
