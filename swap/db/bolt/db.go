// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package bolt is a bbolt-backed SwapStore.
package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xcswap/xcswap/swap/db"
	"github.com/xcswap/xcswap/swap/encode"
	"go.etcd.io/bbolt"
)

// Bolt works on []byte keys and values. These are the bucket and key
// encodings in use.
var (
	appBucket   = []byte("app")
	swapsBucket = []byte("swaps")
	recordKey   = []byte("record")
	statusKey   = []byte("status")
	stampKey    = []byte("stamp")
)

// BoltDB is a bbolt-based SwapStore. Each swap occupies a nested bucket under
// swapsBucket keyed by order hash, holding the encoded record plus small
// denormalized keys for scanning.
type BoltDB struct {
	*bbolt.DB
}

var _ db.SwapStore = (*BoltDB)(nil)

// NewDB is a constructor for a *BoltDB.
func NewDB(dbPath string) (*BoltDB, error) {
	bdb, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	sdb := &BoltDB{DB: bdb}
	return sdb, sdb.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{appBucket, swapsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(bucket), err)
			}
		}
		return nil
	})
}

// Run waits for context cancellation and closes the database.
func (d *BoltDB) Run(ctx context.Context) {
	<-ctx.Done()
	if err := d.Close(); err != nil {
		log.Errorf("error closing database: %v", err)
	}
}

// StoreSwap saves or replaces the record keyed by its order hash.
func (d *BoltDB) StoreSwap(r *db.SwapRecord) error {
	if r.OrderHash == (common.Hash{}) {
		return fmt.Errorf("cannot store swap with empty order hash")
	}
	return d.swapsUpdate(func(swaps *bbolt.Bucket) error {
		swap, err := swaps.CreateBucketIfNotExists(r.OrderHash[:])
		if err != nil {
			return fmt.Errorf("create swap bucket: %w", err)
		}
		if err := swap.Put(recordKey, r.Encode()); err != nil {
			return fmt.Errorf("recordKey put error: %w", err)
		}
		if err := swap.Put(statusKey, []byte{byte(r.Status)}); err != nil {
			return fmt.Errorf("statusKey put error: %w", err)
		}
		return swap.Put(stampKey, encode.Uint64Bytes(uint64(r.Stamp.UnixMilli())))
	})
}

// Swap retrieves a record by order hash.
func (d *BoltDB) Swap(orderHash common.Hash) (*db.SwapRecord, error) {
	var r *db.SwapRecord
	return r, d.swapsView(func(swaps *bbolt.Bucket) error {
		swap := swaps.Bucket(orderHash[:])
		if swap == nil {
			return fmt.Errorf("no swap found for %s", orderHash)
		}
		var err error
		r, err = db.DecodeSwapRecord(encode.CopySlice(swap.Get(recordKey)))
		return err
	})
}

// ActiveSwaps lists records that have not reached a terminal status.
func (d *BoltDB) ActiveSwaps() ([]*db.SwapRecord, error) {
	var active []*db.SwapRecord
	return active, d.swapsView(func(swaps *bbolt.Bucket) error {
		c := swaps.Cursor()
		for key, _ := c.First(); key != nil; key, _ = c.Next() {
			swap := swaps.Bucket(key)
			if swap == nil {
				return fmt.Errorf("swap bucket %x value not a nested bucket", key)
			}
			statusB := swap.Get(statusKey)
			if len(statusB) != 1 {
				return fmt.Errorf("swap bucket %x has no status", key)
			}
			switch status := db.SwapStatus(statusB[0]); status {
			case db.StatusRedeemed, db.StatusCancelled:
				continue
			}
			r, err := db.DecodeSwapRecord(encode.CopySlice(swap.Get(recordKey)))
			if err != nil {
				return err
			}
			active = append(active, r)
		}
		return nil
	})
}

// swapsView is a convenience function for reading from the swaps bucket.
func (d *BoltDB) swapsView(f func(*bbolt.Bucket) error) error {
	return d.View(func(tx *bbolt.Tx) error {
		swaps := tx.Bucket(swapsBucket)
		if swaps == nil {
			return fmt.Errorf("failed to open swaps bucket")
		}
		return f(swaps)
	})
}

// swapsUpdate is a convenience function for updating the swaps bucket.
func (d *BoltDB) swapsUpdate(f func(*bbolt.Bucket) error) error {
	return d.Update(func(tx *bbolt.Tx) error {
		swaps := tx.Bucket(swapsBucket)
		if swaps == nil {
			return fmt.Errorf("failed to open swaps bucket")
		}
		return f(swaps)
	})
}
