// Package pipeline implements data filter pipelines: ordered sequences of
// byte transforms (compression, shuffling, checksumming) described by a
// filter pipeline message in an object header.
//
// Encoding applies the filters first to last; decoding reverses them, last
// to first, with an optional per-block mask skipping individual filters.
// Filter sets are explicit values so a reader controls exactly which
// transforms a file may demand of it.
package pipeline
