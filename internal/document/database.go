package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/docstream/docstream/internal/extraction"
)

const (
	documentsBucketName   = "documents"
	extractionsBucketName = "extractions"
	historyBucketName     = "history"
)

// DB defines the interface for database operations
type DB interface {
	// SaveDocument inserts or replaces a document
	SaveDocument(doc *Document) error

	// GetDocument retrieves a document by ID
	GetDocument(id string) (*Document, error)

	// ListDocuments returns a page of ownerID's documents, newest first, and the total count
	ListDocuments(ownerID string, skip, limit int) ([]*Document, int, error)

	// DeleteDocument removes a document from the database
	DeleteDocument(id string) error

	// CacheFor returns the extraction cache scoped to ownerID
	CacheFor(ownerID string) extraction.Cache

	// HistoryFor returns the extraction history of ownerID
	HistoryFor(ownerID string) History

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{documentsBucketName, extractionsBucketName, historyBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Handle returns the underlying database so other stores can share the file
func (b *BoltDB) Handle() *bbolt.DB {
	return b.db
}

// SaveDocument saves a document to the database
func (b *BoltDB) SaveDocument(doc *Document) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucketName))
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		return bucket.Put([]byte(doc.ID), data)
	})
}

// GetDocument retrieves a document by ID
func (b *BoltDB) GetDocument(id string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns a page of ownerID's documents, newest first
func (b *BoltDB) ListDocuments(ownerID string, skip, limit int) ([]*Document, int, error) {
	docs := make([]*Document, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling document: %w", err)
			}
			if doc.OwnerID == ownerID {
				docs = append(docs, &doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	return paginate(docs, skip, limit), len(docs), nil
}

// DeleteDocument removes a document from the database
func (b *BoltDB) DeleteDocument(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucketName))
		return bucket.Delete([]byte(id))
	})
}

// CacheFor returns a cache stored in a per-owner sub-bucket
func (b *BoltDB) CacheFor(ownerID string) extraction.Cache {
	return &boltCache{db: b.db, owner: []byte(ownerID)}
}

// HistoryFor returns a history stored in a per-owner sub-bucket
func (b *BoltDB) HistoryFor(ownerID string) History {
	return &boltHistory{db: b.db, owner: []byte(ownerID)}
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func paginate(docs []*Document, skip, limit int) []*Document {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(docs) {
		return []*Document{}
	}
	end := len(docs)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return docs[skip:end]
}

// boltCache implements extraction.Cache
type boltCache struct {
	db    *bbolt.DB
	owner []byte
}

func (c *boltCache) Lookup(hash string) (*extraction.Record, bool, error) {
	var rec *extraction.Record
	err := c.db.View(func(tx *bbolt.Tx) error {
		owner := tx.Bucket([]byte(extractionsBucketName)).Bucket(c.owner)
		if owner == nil {
			return nil
		}
		data := owner.Get([]byte(hash))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading cached extraction: %w", err)
	}
	return rec, rec != nil, nil
}

func (c *boltCache) Store(hash string, rec *extraction.Record) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		owner, err := tx.Bucket([]byte(extractionsBucketName)).CreateBucketIfNotExists(c.owner)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling extraction: %w", err)
		}
		return owner.Put([]byte(hash), data)
	})
}

// boltHistory implements History
type boltHistory struct {
	db    *bbolt.DB
	owner []byte
}

func (h *boltHistory) Add(entry HistoryEntry) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		owner, err := tx.Bucket([]byte(historyBucketName)).CreateBucketIfNotExists(h.owner)
		if err != nil {
			return err
		}

		var existing HistoryEntry
		if data := owner.Get([]byte(entry.Hash)); data != nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("unmarshaling history entry: %w", err)
			}
		}

		data, err := json.Marshal(mergeHistory(existing, entry))
		if err != nil {
			return fmt.Errorf("marshaling history entry: %w", err)
		}
		return owner.Put([]byte(entry.Hash), data)
	})
}

func (h *boltHistory) List() ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0)
	err := h.db.View(func(tx *bbolt.Tx) error {
		owner := tx.Bucket([]byte(historyBucketName)).Bucket(h.owner)
		if owner == nil {
			return nil
		}
		return owner.ForEach(func(k, v []byte) error {
			var entry HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling history entry: %w", err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortHistory(entries)
	return entries, nil
}
