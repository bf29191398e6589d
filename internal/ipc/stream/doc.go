/*
Package stream carries IPC sessions over a single ordered byte pipe, such
as the stdin/stdout of a native child process.

# Wire Format

Every frame is a little-endian uint32 length followed by that many bytes:

	+--------+--------+------+----------------+
	| len u32| pid u32| kind | data           |
	+--------+--------+------+----------------+

len counts pid, kind and data. kind is 1 for a JSON envelope, 2 for a
CBOR envelope and 0 for "channel closed". A frame is written with one
Write call under a lock, so concurrent senders never interleave.

# Channels

A Duplex multiplexes channels by pid. Each Channel is an ipc.Transport.
The parent side allocates odd pids and the child side even ones. A pid is
never reused; frames arriving for a retired pid are dropped.

The read side is bound once with BindIncome. When it reaches end of
stream, or fails, every channel closes and so does the write side.

# Usage

	d := stream.NewDuplex(stdin, stream.Options{Side: stream.SideParent})
	_ = d.BindIncome(ctx, stdout)

	ch, _ := d.Open()
	session, _ := stream.NewSession(ctx, pool, ch, stream.AttachOptions{Local: local, Remote: remote})
*/
package stream
