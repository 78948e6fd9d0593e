// Package files stores uploaded file content keyed by session.
//
// DESIGN: Blob payloads live in bbolt rather than the relational store.
// Records are keyed by a monotonically increasing id from the bucket
// sequence; a per-session index bucket maps session ids to record ids so the
// most recent upload for a session is a reverse prefix scan.
package files

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	recordBucket  = "files"
	sessionBucket = "files_by_session"
)

// Record is one stored upload.
type Record struct {
	ID         uint64    `json:"id"`
	SessionID  string    `json:"session_id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	Content    []byte    `json:"content"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ErrTooLarge is returned when an upload exceeds the configured ceiling.
type ErrTooLarge struct {
	Size, Limit int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("file of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// Store is the bbolt-backed upload store.
type Store struct {
	db      *bolt.DB
	maxSize int64
}

// Open opens or creates the upload store at the given path.
func Open(dbPath string, maxSize int64) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening files db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating file buckets: %w", err)
	}

	return &Store{db: db, maxSize: maxSize}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxSize returns the configured content ceiling in bytes.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// Ping verifies the database is readable.
func (s *Store) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(recordBucket)) == nil {
			return fmt.Errorf("bucket %q missing", recordBucket)
		}
		return nil
	})
}

// Save stores an upload and returns its assigned id. Rejects content larger
// than the configured ceiling before touching the database.
func (s *Store) Save(sessionID, filename, fileType string, content []byte) (uint64, error) {
	if int64(len(content)) > s.maxSize {
		return 0, &ErrTooLarge{Size: int64(len(content)), Limit: s.maxSize}
	}

	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(recordBucket))
		bySession := tx.Bucket([]byte(sessionBucket))

		seq, err := records.NextSequence()
		if err != nil {
			return err
		}
		id = seq

		rec := Record{
			ID:         id,
			SessionID:  sessionID,
			Filename:   filename,
			FileType:   fileType,
			Content:    content,
			UploadedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := records.Put(u64Key(id), data); err != nil {
			return err
		}
		// Session index: "<session>\x00<id>" -> id, so a reverse scan over
		// the session prefix yields newest first.
		return bySession.Put(sessionKey(sessionID, id), u64Key(id))
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the record with the given id, or nil when absent.
func (s *Store) Get(id uint64) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(recordBucket)).Get(u64Key(id))
		if data == nil {
			return nil
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

// Latest returns the most recent upload for a session, or nil when the
// session has none.
func (s *Store) Latest(sessionID string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bySession := tx.Bucket([]byte(sessionBucket))
		records := tx.Bucket([]byte(recordBucket))

		prefix := append([]byte(sessionID), 0)
		c := bySession.Cursor()

		// Seek past the prefix range, then step back to its last key.
		var lastID []byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			lastID = v
		}
		if lastID == nil {
			return nil
		}

		data := records.Get(lastID)
		if data == nil {
			return nil
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

func u64Key(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func sessionKey(sessionID string, id uint64) []byte {
	key := append([]byte(sessionID), 0)
	return append(key, u64Key(id)...)
}
