// Package ffindex reads, writes, and transforms ffindex archives: a flat
// data blob of NUL-terminated records plus a plain-text index of
// name/offset/length triples.
//
// The archive layer (Open, Archive, Writer, Create) provides random access
// to records over a shared read-only memory map and append-only construction
// of new archives. Apply runs an external program over every record of an
// archive across a pool of workers, optionally capturing each child's
// standard output into a new archive whose records keep the source order.
package ffindex
