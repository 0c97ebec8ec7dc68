/*
Pipeline implements the sharded aggregation path.

# Module
  - router: hashes instrument to shard, non-blocking submit
  - shard: single goroutine owning aggregation state and series writes
  - quarantine: rebuilds an instrument's builders after an invariant fault

# Source
  - validated ticks from ingest

# Produce
  - closed/amended windows to the series store and event bus
  - feature snapshots to the predict bridge via the window observer

# Sharded
  - instrument id modulo shard count
*/
package pipeline
