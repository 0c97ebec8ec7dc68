/*
Recorder journals accepted events in an append-only segmented log.

# Module
  - writer: background append with a bounded queue; rotation by size/age
  - reader: sequential decode with checksum verification
  - playback: paced replay of a journal directory

# Source
  - accepted ticks from ingest
  - fills from the position book

# Produce
  - journal segments for replay and position recovery

# Sharded
  - none, single writer goroutine
*/
package recorder
