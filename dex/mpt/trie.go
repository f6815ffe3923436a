// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mpt

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrMissingNode is returned when a node referenced by the trie is not in the
// node store or the proof.
var ErrMissingNode = errors.New("missing trie node")

// Trie is a view of a trie rooted at Root in a MemoryDB. Mutations store new
// nodes, release replaced ones and advance the root.
type Trie struct {
	db   *MemoryDB
	root Hash
}

// New creates a Trie view of the trie at root. The zero hash is treated as the
// empty trie.
func New(db *MemoryDB, root Hash) *Trie {
	return &Trie{db: db, root: NormalizeRoot(root)}
}

// Root is the current root hash.
func (t *Trie) Root() Hash {
	return t.root
}

func (t *Trie) load(h Hash) (node, error) {
	if h == EmptyRoot {
		return nil, nil
	}
	b, found := t.db.Get(h)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMissingNode, h)
	}
	return decodeNode(b)
}

func (t *Trie) store(n node) Hash {
	if n == nil {
		return EmptyRoot
	}
	return t.db.insert(encodeNode(n))
}

// Get retrieves the value for key. A nil value with a nil error means the key
// is not in the trie.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return lookup(t.load, t.root, keyToNibbles(key))
}

func lookup(load func(Hash) (node, error), h Hash, path []byte) ([]byte, error) {
	for {
		n, err := load(h)
		if err != nil {
			return nil, err
		}
		switch nt := n.(type) {
		case nil:
			return nil, nil
		case *leafNode:
			if bytes.Equal(nt.path, path) {
				return nt.value, nil
			}
			return nil, nil
		case *extNode:
			if !bytes.HasPrefix(path, nt.path) {
				return nil, nil
			}
			path = path[len(nt.path):]
			h = nt.child
		case *branchNode:
			if len(path) == 0 {
				return nt.value, nil
			}
			h = nt.children[path[0]]
			if h.IsZero() {
				return nil, nil
			}
			path = path[1:]
		}
	}
}

// Insert sets the value for the key. Values must be non-nil.
func (t *Trie) Insert(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	root, err := t.insert(t.root, keyToNibbles(key), value)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Trie) insert(h Hash, path, value []byte) (Hash, error) {
	n, err := t.load(h)
	if err != nil {
		return h, err
	}
	switch nt := n.(type) {
	case nil:
		return t.store(&leafNode{path: path, value: value}), nil

	case *leafNode:
		if bytes.Equal(nt.path, path) {
			if bytes.Equal(nt.value, value) {
				return h, nil
			}
			newH := t.store(&leafNode{path: path, value: value})
			t.db.remove(h)
			return newH, nil
		}
		cp := commonPrefix(nt.path, path)
		br := new(branchNode)
		if cp == len(nt.path) {
			br.value = nt.value
		} else {
			br.children[nt.path[cp]] = t.store(&leafNode{path: nt.path[cp+1:], value: nt.value})
		}
		if cp == len(path) {
			br.value = value
		} else {
			br.children[path[cp]] = t.store(&leafNode{path: path[cp+1:], value: value})
		}
		newH := t.wrapExt(path[:cp], t.store(br))
		t.db.remove(h)
		return newH, nil

	case *extNode:
		cp := commonPrefix(nt.path, path)
		if cp == len(nt.path) {
			childH, err := t.insert(nt.child, path[cp:], value)
			if err != nil {
				return h, err
			}
			if childH == nt.child {
				return h, nil
			}
			newH := t.store(&extNode{path: nt.path, child: childH})
			t.db.remove(h)
			return newH, nil
		}
		br := new(branchNode)
		// The extension's child reference moves to the new structure.
		if len(nt.path)-cp == 1 {
			br.children[nt.path[cp]] = nt.child
		} else {
			br.children[nt.path[cp]] = t.store(&extNode{path: nt.path[cp+1:], child: nt.child})
		}
		if cp == len(path) {
			br.value = value
		} else {
			br.children[path[cp]] = t.store(&leafNode{path: path[cp+1:], value: value})
		}
		newH := t.wrapExt(path[:cp], t.store(br))
		t.db.remove(h)
		return newH, nil

	case *branchNode:
		newBr := &branchNode{children: nt.children, value: nt.value}
		if len(path) == 0 {
			if bytes.Equal(nt.value, value) {
				return h, nil
			}
			newBr.value = value
		} else {
			idx := path[0]
			childH := nt.children[idx]
			if childH.IsZero() {
				childH = EmptyRoot
			}
			newChild, err := t.insert(childH, path[1:], value)
			if err != nil {
				return h, err
			}
			if newChild == childH {
				return h, nil
			}
			newBr.children[idx] = newChild
		}
		newH := t.store(newBr)
		t.db.remove(h)
		return newH, nil
	}
	return h, errCorruptNode
}

// wrapExt puts an extension with path in front of child, if path is not empty.
func (t *Trie) wrapExt(path []byte, child Hash) Hash {
	if len(path) == 0 {
		return child
	}
	return t.store(&extNode{path: append([]byte{}, path...), child: child})
}

// Remove deletes the key from the trie. Removing a missing key is a no-op.
func (t *Trie) Remove(key []byte) error {
	root, err := t.remove(t.root, keyToNibbles(key))
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Trie) remove(h Hash, path []byte) (Hash, error) {
	n, err := t.load(h)
	if err != nil {
		return h, err
	}
	switch nt := n.(type) {
	case nil:
		return h, nil

	case *leafNode:
		if !bytes.Equal(nt.path, path) {
			return h, nil
		}
		t.db.remove(h)
		return EmptyRoot, nil

	case *extNode:
		if !bytes.HasPrefix(path, nt.path) {
			return h, nil
		}
		childH, err := t.remove(nt.child, path[len(nt.path):])
		if err != nil {
			return h, err
		}
		if childH == nt.child {
			return h, nil
		}
		newH, err := t.prefixNode(nt.path, childH)
		if err != nil {
			return h, err
		}
		t.db.remove(h)
		return newH, nil

	case *branchNode:
		newBr := &branchNode{children: nt.children, value: nt.value}
		if len(path) == 0 {
			if nt.value == nil {
				return h, nil
			}
			newBr.value = nil
		} else {
			idx := path[0]
			childH := nt.children[idx]
			if childH.IsZero() {
				return h, nil
			}
			newChild, err := t.remove(childH, path[1:])
			if err != nil {
				return h, err
			}
			if newChild == childH {
				return h, nil
			}
			if newChild == EmptyRoot {
				newChild = Hash{}
			}
			newBr.children[idx] = newChild
		}
		newH, err := t.collapseBranch(newBr)
		if err != nil {
			return h, err
		}
		t.db.remove(h)
		return newH, nil
	}
	return h, errCorruptNode
}

// prefixNode stores the node at childH with path prepended, merging with a
// leaf or extension child. The child reference is consumed.
func (t *Trie) prefixNode(path []byte, childH Hash) (Hash, error) {
	if childH == EmptyRoot {
		return EmptyRoot, nil
	}
	child, err := t.load(childH)
	if err != nil {
		return childH, err
	}
	switch ct := child.(type) {
	case *leafNode:
		newH := t.store(&leafNode{path: concat(path, ct.path), value: ct.value})
		t.db.remove(childH)
		return newH, nil
	case *extNode:
		newH := t.store(&extNode{path: concat(path, ct.path), child: ct.child})
		t.db.remove(childH)
		return newH, nil
	}
	return t.store(&extNode{path: append([]byte{}, path...), child: childH}), nil
}

// collapseBranch stores the branch, reducing it to a leaf or extension when it
// has fewer than two entries.
func (t *Trie) collapseBranch(br *branchNode) (Hash, error) {
	var count, last int
	for i, c := range br.children {
		if !c.IsZero() {
			count++
			last = i
		}
	}
	switch {
	case count == 0 && br.value == nil:
		return EmptyRoot, nil
	case count == 0:
		return t.store(&leafNode{path: []byte{}, value: br.value}), nil
	case count == 1 && br.value == nil:
		return t.prefixNode([]byte{byte(last)}, br.children[last])
	}
	return t.store(br), nil
}

// Iterate calls f for every key-value pair in key order.
func (t *Trie) Iterate(f func(k, v []byte) error) error {
	return t.iterate(t.root, nil, f)
}

func (t *Trie) iterate(h Hash, prefix []byte, f func(k, v []byte) error) error {
	n, err := t.load(h)
	if err != nil {
		return err
	}
	switch nt := n.(type) {
	case *leafNode:
		return f(nibblesToKey(concat(prefix, nt.path)), nt.value)
	case *extNode:
		return t.iterate(nt.child, concat(prefix, nt.path), f)
	case *branchNode:
		if nt.value != nil {
			if err := f(nibblesToKey(prefix), nt.value); err != nil {
				return err
			}
		}
		for i, c := range nt.children {
			if c.IsZero() {
				continue
			}
			if err := t.iterate(c, concat(prefix, []byte{byte(i)}), f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Change is a key with an optional new value. A nil Value removes the key.
type Change struct {
	Key   []byte
	Value []byte
}

// DeltaRoot applies the changes to the trie at root and returns the new root.
func DeltaRoot(db *MemoryDB, root Hash, changes []Change) (Hash, error) {
	t := New(db, root)
	for _, c := range changes {
		var err error
		if c.Value == nil {
			err = t.Remove(c.Key)
		} else {
			err = t.Insert(c.Key, c.Value)
		}
		if err != nil {
			return t.Root(), err
		}
	}
	return t.Root(), nil
}
