package storage

import (
	"database/sql"
	"fmt"

	"github.com/golang/snappy"
	_ "modernc.org/sqlite"

	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

// SQLite persists every tuple of a table as one compressed BLOB row in a
// dedicated table inside a shared per-Client database file
// (<home>/c4_home/tcp_<port>/sqlite.db). Content-hash is stored alongside
// the blob so duplicate checking doesn't require deserializing every row.
type SQLite struct {
	db      *sql.DB
	table   string
	sch     *schema.Schema
	tblName string
}

// OpenSQLite creates (if needed) the backing row table inside db and
// returns a Table view over it. db is shared by every SQLite-backed table
// of a Client — one *sql.DB, many logical row tables.
func OpenSQLite(db *sql.DB, logicalName string, sch *schema.Schema) (*SQLite, error) {
	physical := "c4_" + logicalName
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		content_hash INTEGER NOT NULL,
		body BLOB NOT NULL
	)`, physical)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("storage: create table %s: %w", physical, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q(content_hash)`, physical+"_hash_idx", physical)
	if _, err := db.Exec(idx); err != nil {
		return nil, fmt.Errorf("storage: create index for %s: %w", physical, err)
	}
	return &SQLite{db: db, table: physical, sch: sch, tblName: logicalName}, nil
}

func (s *SQLite) Insert(t *tuple.Tuple) (bool, error) {
	h := int64(tuple.Hash(t))
	rows, err := s.db.Query(fmt.Sprintf(`SELECT body FROM %q WHERE content_hash = ?`, s.table), h)
	if err != nil {
		return false, err
	}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			rows.Close()
			return false, err
		}
		plain, err := snappy.Decode(nil, blob)
		if err != nil {
			rows.Close()
			return false, err
		}
		existing := tuple.DecodeBinary(s.sch, plain)
		dup := tuple.Equal(existing, t)
		existing.Unpin()
		if dup {
			rows.Close()
			return false, nil
		}
	}
	rows.Close()

	body := tuple.EncodeBinary(t, nil)
	compressed := snappy.Encode(nil, body)
	if _, err := s.db.Exec(fmt.Sprintf(`INSERT INTO %q (content_hash, body) VALUES (?, ?)`, s.table), h, compressed); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLite) Delete(t *tuple.Tuple) (bool, error) {
	h := int64(tuple.Hash(t))
	rows, err := s.db.Query(fmt.Sprintf(`SELECT rowid, body FROM %q WHERE content_hash = ?`, s.table), h)
	if err != nil {
		return false, err
	}
	var toDelete []int64
	for rows.Next() {
		var rowid int64
		var blob []byte
		if err := rows.Scan(&rowid, &blob); err != nil {
			rows.Close()
			return false, err
		}
		plain, err := snappy.Decode(nil, blob)
		if err != nil {
			rows.Close()
			return false, err
		}
		existing := tuple.DecodeBinary(s.sch, plain)
		dup := tuple.Equal(existing, t)
		existing.Unpin()
		if dup {
			toDelete = append(toDelete, rowid)
		}
	}
	rows.Close()
	if len(toDelete) == 0 {
		return false, nil
	}
	_, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %q WHERE rowid = ?`, s.table), toDelete[0])
	return err == nil, err
}

func (s *SQLite) Count() int {
	var n int
	_ = s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, s.table)).Scan(&n)
	return n
}

func (s *SQLite) Close() error { return nil } // shared *sql.DB, closed by the owning Client

func (s *SQLite) Scan() (Cursor, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT body FROM %q`, s.table))
	if err != nil {
		return nil, err
	}
	return &sqliteCursor{rows: rows, sch: s.sch}, nil
}

type sqliteCursor struct {
	rows *sql.Rows
	sch  *schema.Schema
}

func (c *sqliteCursor) Next() (*tuple.Tuple, bool) {
	if !c.rows.Next() {
		return nil, false
	}
	var blob []byte
	if err := c.rows.Scan(&blob); err != nil {
		return nil, false
	}
	plain, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, false
	}
	return tuple.DecodeBinary(c.sch, plain), true
}

func (c *sqliteCursor) Close() error { return c.rows.Close() }
