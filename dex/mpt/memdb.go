// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mpt

import "github.com/decred/slog"

type dbEntry struct {
	data []byte
	rc   int
}

// MemoryDB is a content-addressed node store. Every stored node carries a
// reference count. A node is dropped once all references are removed, so
// tries that share sub-trees share storage.
//
// MemoryDB is not safe for concurrent use. Callers hold their own lock.
type MemoryDB struct {
	nodes map[Hash]*dbEntry
}

// NewMemoryDB is the constructor for an empty MemoryDB.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{nodes: make(map[Hash]*dbEntry)}
}

// Get retrieves the encoded node for the hash.
func (db *MemoryDB) Get(h Hash) ([]byte, bool) {
	if h == EmptyRoot {
		return encodeEmpty(), true
	}
	e, found := db.nodes[h]
	if !found {
		return nil, false
	}
	return e.data, true
}

// insert stores the encoded node and increments its reference count.
func (db *MemoryDB) insert(data []byte) Hash {
	h := HashData(data)
	if h == EmptyRoot {
		return h
	}
	if e, found := db.nodes[h]; found {
		e.rc++
		return h
	}
	db.nodes[h] = &dbEntry{data: data, rc: 1}
	return h
}

// remove decrements the reference count of the node and drops it at zero.
func (db *MemoryDB) remove(h Hash) {
	e, found := db.nodes[h]
	if !found {
		return
	}
	e.rc--
	if e.rc <= 0 {
		delete(db.nodes, h)
	}
}

// Len is the number of distinct nodes stored.
func (db *MemoryDB) Len() int {
	return len(db.nodes)
}

// Purge removes every node reachable from root, decrementing shared nodes
// once per reference.
func (db *MemoryDB) Purge(root Hash) {
	root = NormalizeRoot(root)
	if root == EmptyRoot {
		return
	}
	b, found := db.Get(root)
	if !found {
		return
	}
	n, err := decodeNode(b)
	if err != nil {
		log.Errorf("Purge: corrupt node %s: %v", root, err)
		db.remove(root)
		return
	}
	switch nt := n.(type) {
	case *extNode:
		db.Purge(nt.child)
	case *branchNode:
		for _, c := range nt.children {
			if !c.IsZero() {
				db.Purge(c)
			}
		}
	}
	db.remove(root)
}

// log is disabled until the consumer calls UseLogger.
var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}
