// Package pendingqueue persists voice clips whose upload failed after the
// placeholder message was created, so they can be attached later.
package pendingqueue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xiaot623/clinichat/internal/domain"
)

var bucketName = []byte("pending_attachments")

// Entry is one clip waiting to be attached to its placeholder message.
type Entry struct {
	MessageID      int64            `json:"message_id"`
	ConversationID int64            `json:"conversation_id"`
	Clip           domain.AudioClip `json:"clip"`
	Attempts       int              `json:"attempts"`
	LastError      string           `json:"last_error,omitempty"`
	QueuedAt       time.Time        `json:"queued_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Queue is a bbolt-backed set of entries keyed by message id.
type Queue struct {
	db *bolt.DB
}

// Open opens (creating if needed) the queue file at path.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open pending queue: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the file lock.
func (q *Queue) Close() error {
	return q.db.Close()
}

func key(messageID int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(messageID))
	return k
}

// Put stores e, replacing any entry for the same message.
func (q *Queue) Put(e Entry) error {
	now := time.Now().UTC()
	if e.QueuedAt.IsZero() {
		e.QueuedAt = now
	}
	e.UpdatedAt = now
	enc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key(e.MessageID), enc)
	})
}

// Get returns the entry for messageID, or nil when none is queued.
func (q *Queue) Get(messageID int64) (*Entry, error) {
	var out *Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key(messageID))
		if v == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		out = &e
		return nil
	})
	return out, err
}

// List returns every queued entry, oldest first.
func (q *Queue) List() ([]Entry, error) {
	var out []Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				// Skip malformed entries instead of failing the whole scan
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out, nil
}

// RecordFailure bumps the attempt counter and remembers the error.
// Unknown ids are ignored.
func (q *Queue) RecordFailure(messageID int64, cause error) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(key(messageID))
		if v == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		e.Attempts++
		if cause != nil {
			e.LastError = cause.Error()
		}
		e.UpdatedAt = time.Now().UTC()
		enc, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key(messageID), enc)
	})
}

// Delete removes the entry for messageID, if any.
func (q *Queue) Delete(messageID int64) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key(messageID))
	})
}

// Len returns the number of queued entries.
func (q *Queue) Len() (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return n, err
}
