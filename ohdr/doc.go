// Package ohdr reads and writes self-describing object headers: chunked,
// message-based metadata blocks in the HDF5 object header format, versions
// 1 and 2.
//
// A header is a table of typed messages spread across one or more chunks.
// Chunks beyond the first are linked in by continuation messages and, in
// version 2, framed by a signature and a trailing checksum. The package
// manages space within the chunks itself: removed messages become null
// placeholders, new messages claim the best-fitting null slot, and Condense
// reclaims what mutation left behind.
//
// Storage is abstracted by the Store interface and cache participation by
// the Cache interface; single-writer/multiple-reader setups get flush
// dependencies between chunks so readers never observe a pointer to an
// unwritten chunk.
package ohdr
