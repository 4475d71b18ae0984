/*
Package dump implements the discovery-authentication-extraction engine for
FeliCa Standard cards.

The engine walks the area/service structure of every system on a presented
card, matches the discovered nodes against a key table, performs the mutual
authentication handshake where a service requires it, and extracts block
data through batched reads with partial-failure recovery.

# Components

  - Walker enumerates the node list of one system into a ServiceTree.
  - Authenticator performs the 3-pass mutual authentication for one service
    and yields a scoped Session.
  - BatchReader partitions block sets into protocol-sized chunks and applies
    the retry policy on transport failures.
  - Processor drives the three above for every discovered service group and
    produces one ExtractionResult each.

# Failure philosophy

Nothing in this package is fatal to the process. A failure is local to its
scope: a bad chunk costs its blocks, a bad service costs one result, a
malformed node list costs one system pass. Absent keys are an expected
outcome (StatusNoKey), not an error.

All card exchanges run strictly sequentially: FeliCa is half-duplex over a
single transport, so the engine never issues overlapping commands and only
honors cancellation between exchanges.
*/
package dump
