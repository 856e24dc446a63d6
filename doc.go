// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package packarchive implements a single-file container format for large
// numbers of opaque byte-string entries, optimized for randomized, sharded,
// streaming consumption by distributed machine-learning data loaders.
//
// An archive is one file: an 8-byte big-endian header capacity, a
// fixed-size reserved window holding a serialized index, and a data region
// of concatenated payloads in insertion order. Writer appends (key, value)
// pairs, staging them in memory and periodically flushing payload bytes
// followed by a full header rewrite. Reader opens an archive, groups its
// entries into blocks by a size or count criterion, optionally shuffles
// and shards the block order, and yields (key, value) pairs one block read
// at a time.
package packarchive
