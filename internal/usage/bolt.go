package usage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	usersBucketName = "users"
	usageBucketName = "usage"
)

// BoltStore implements Store on a bbolt database. The database handle is shared with the
// document store and is closed by its owner, not by the BoltStore.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates the usage buckets in db
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(usersBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(usageBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// UpsertUser creates or refreshes the user keyed by email
func (b *BoltStore) UpsertUser(ctx context.Context, profile Profile, now time.Time) (*User, error) {
	var user User
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usersBucketName))

		if data := bucket.Get([]byte(profile.Email)); data != nil {
			if err := json.Unmarshal(data, &user); err != nil {
				return fmt.Errorf("unmarshaling user: %w", err)
			}
		} else {
			user = User{
				ID:        uuid.NewString(),
				Email:     profile.Email,
				Plan:      PlanFree,
				CreatedAt: now,
			}
		}

		user.Name = profile.Name
		user.PictureURL = profile.PictureURL
		if profile.Plan != "" {
			user.Plan = profile.Plan
		}
		user.UpdatedAt = now

		data, err := json.Marshal(&user)
		if err != nil {
			return fmt.Errorf("marshaling user: %w", err)
		}
		return bucket.Put([]byte(profile.Email), data)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// MonthlyUsage returns the counter for (userID, month)
func (b *BoltStore) MonthlyUsage(ctx context.Context, userID, month string) (int, error) {
	var count uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(usageBucketName)).Get(usageKey(userID, month)); len(data) == 8 {
			count = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return int(count), err
}

// IncrementUsage adds one to the counter. bbolt runs one write transaction at a time, so
// the read and the write below cannot interleave with another increment.
func (b *BoltStore) IncrementUsage(ctx context.Context, userID, month string) (int, error) {
	var count uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usageBucketName))
		key := usageKey(userID, month)
		if data := bucket.Get(key); len(data) == 8 {
			count = binary.BigEndian.Uint64(data)
		}
		count++

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count)
		return bucket.Put(key, buf)
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing usage: %w", err)
	}
	return int(count), nil
}

// Close is a no-op; the shared database is closed by its owner
func (b *BoltStore) Close() error {
	return nil
}

func usageKey(userID, month string) []byte {
	return []byte(userID + "/" + month)
}
