// Package mmap provides read-only memory-mapped access to index component
// files.
//
// Sealed components are immutable, so a shared read-only mapping lets every
// concurrent searcher slice directly into the file without copies or
// coordination.
//
//	m, err := mmap.Open("table-1-sai-terms.db")
//	if err != nil { ... }
//	defer m.Close()
//	data := m.Bytes()
//
// Unix platforms use mmap(2) with madvise(2) hints; Windows uses
// CreateFileMapping/MapViewOfFile and treats hints as no-ops. Close is
// idempotent; callers must not touch Bytes() after Close returns.
package mmap
