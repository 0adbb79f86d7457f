// Package storage provides the uniform Table interface that every catalog
// entry is backed by, plus two implementations: an in-memory content-hash
// set and a SQLite-backed table for the persistent storage kind.
package storage

import "github.com/bloom-lang/c4/server/c4/tuple"

// Cursor iterates the tuples of one Table.Scan call. Next returns
// (nil, false) once exhausted; callers must call Close to release any
// backing resources (a SQLite prepared statement, in particular).
type Cursor interface {
	Next() (*tuple.Tuple, bool)
	Close() error
}

// Table is the storage backend contract every TableDef is built on. Insert
// reports whether the tuple was newly added (false for a duplicate) — this
// is the single place duplicate suppression happens, which is what makes
// semi-naive fixpoint evaluation terminate.
type Table interface {
	Insert(t *tuple.Tuple) (bool, error)
	Delete(t *tuple.Tuple) (bool, error)
	Scan() (Cursor, error)
	Count() int
	Close() error
}
