package abs9p

import "sync"

// fidEntry is one slot in the fid table: the backend handle the fid
// resolves to, its protocol identity, and whether it has been opened
// for I/O.
type fidEntry struct {
	file   BackendFile
	qid    Qid
	opened bool
	mode   uint32 // open flags, meaningful once opened
}

// FidTable maps client-chosen fids to backend handles for one
// connection. A fid present in the table maps to exactly one handle
// and one Qid; freeing is unconditional. The table is guarded by a
// single mutex: concurrent per-tag operations on one connection may
// mutate it simultaneously.
type FidTable struct {
	mu      sync.Mutex
	entries map[Fid]*fidEntry
}

// NewFidTable returns an empty fid table.
func NewFidTable() *FidTable {
	return &FidTable{entries: make(map[Fid]*fidEntry)}
}

// Allocate binds fid to a backend handle and qid. It fails with
// *FidInUseError when the fid already occupies a slot.
func (t *FidTable) Allocate(fid Fid, qid Qid, file BackendFile) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[fid]; exists {
		return &FidInUseError{Fid: fid}
	}
	t.entries[fid] = &fidEntry{file: file, qid: qid}
	return nil
}

// Lookup resolves fid to its backend handle. It fails with
// *UnknownFidError when the fid has no slot.
func (t *FidTable) Lookup(fid Fid) (BackendFile, Qid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[fid]
	if !exists {
		return nil, Qid{}, &UnknownFidError{Fid: fid}
	}
	return entry.file, entry.qid, nil
}

// IsOpen reports whether fid has been opened for I/O and, if so, with
// which flags.
func (t *FidTable) IsOpen(fid Fid) (bool, uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[fid]
	if !exists {
		return false, 0, &UnknownFidError{Fid: fid}
	}
	return entry.opened, entry.mode, nil
}

// ToOpen transitions fid to the open state. Open-mode legality is the
// backend's concern; the table only records the transition.
func (t *FidTable) ToOpen(fid Fid, mode uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[fid]
	if !exists {
		return &UnknownFidError{Fid: fid}
	}
	entry.opened = true
	entry.mode = mode
	return nil
}

// Free removes the slot unconditionally and returns the handle that
// occupied it so the caller can release it. Freeing an absent fid
// reports *UnknownFidError; that is a per-request failure, never
// fatal to the connection.
func (t *FidTable) Free(fid Fid) (BackendFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[fid]
	if !exists {
		return nil, &UnknownFidError{Fid: fid}
	}
	delete(t.entries, fid)
	return entry.file, nil
}

// DuplicateAs commits a walk result: it binds newfid to the given
// handle and qid. When newfid equals oldfid the walk is in place and
// the existing slot is replaced, with the displaced handle returned
// for release. Otherwise newfid must be unoccupied.
func (t *FidTable) DuplicateAs(oldfid, newfid Fid, qid Qid, file BackendFile) (displaced BackendFile, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if newfid != oldfid {
		if _, exists := t.entries[newfid]; exists {
			return nil, &FidInUseError{Fid: newfid}
		}
		t.entries[newfid] = &fidEntry{file: file, qid: qid}
		return nil, nil
	}

	entry, exists := t.entries[oldfid]
	if !exists {
		return nil, &UnknownFidError{Fid: oldfid}
	}
	displaced = entry.file
	t.entries[oldfid] = &fidEntry{file: file, qid: qid}
	return displaced, nil
}

// commitCreate records that a create succeeded on fid: the slot keeps
// its handle but now names the new file, open with the given flags.
func (t *FidTable) commitCreate(fid Fid, qid Qid, mode uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[fid]
	if !exists {
		return &UnknownFidError{Fid: fid}
	}
	entry.qid = qid
	entry.opened = true
	entry.mode = mode
	return nil
}

// ReleaseAll empties the table and returns every handle it held, the
// implicit clunk performed at connection teardown so backend
// resources cannot leak.
func (t *FidTable) ReleaseAll() []BackendFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	files := make([]BackendFile, 0, len(t.entries))
	for fid, entry := range t.entries {
		files = append(files, entry.file)
		delete(t.entries, fid)
	}
	return files
}

// Count returns the number of occupied slots.
func (t *FidTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
