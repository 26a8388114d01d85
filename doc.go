/*
Package ydoc provides a replicated document of shared containers: text,
arrays, maps and markup trees that any number of peers edit
independently and merge without coordination.  Every replica that has
received the same set of updates shows the same content, regardless of
the order the updates arrived in.

Uses

- Collaborative editors, where each keystroke is a small update

- Offline-first apps that sync whenever a connection is available

- Keeping an auditable, content-addressed history of a document

Documents and transactions

A Document owns a set of named root containers.  All reads and writes
go through a Transaction, and a document has at most one owned
transaction open at a time.  When a transaction commits, observers of
the changed containers receive events describing the change, and
observers of the document receive the binary update that reproduces
it on another replica.

Updates

An update is a compact binary encoding of inserted items and deleted
ranges.  A replica asks a peer for what it is missing by sending its
state vector, the number of items it has seen from each client.
Updates can be merged, diffed against a state vector, and applied in
any order: items whose dependencies are not yet known wait until they
arrive.

Undo

An UndoManager records changes to chosen containers and reverts or
reapplies them as new changes, so undo works the same way on every
replica.

Archive

An Archive keeps updates as immutable blobs named by their hash, in
memory, on a filesystem, in a key-value store or in S3.  A Checkpoint
lists the blobs that rebuild a version of a document, and can be
compacted into a single merged blob.

Inspiration

The item ordering follows "Near Real-Time Peer-to-Peer Shared Editing
on Extensible Data Types", by Petru Nicolaescu, Kevin Jahns, Michael
Derntl and Ralf Klamma, 2016, the algorithm behind Yjs and its
ports.  The binary format is close to, but not compatible with, the
Yjs update format.
*/
package ydoc
