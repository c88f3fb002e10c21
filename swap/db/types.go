// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package db defines the resolver's persistent view of in-flight swaps and
// the storage interface backing it.
package db

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xcswap/xcswap/swap/encode"
)

// SwapStatus is the resolver's progress through one cross-chain swap.
type SwapStatus uint8

const (
	// StatusUnknown is the zero value, never stored.
	StatusUnknown SwapStatus = iota
	// StatusSourceDeployed means the source escrow holds the maker's funds.
	StatusSourceDeployed
	// StatusDestinationDeployed means both escrows are live and the swap is
	// waiting on the secret reveal.
	StatusDestinationDeployed
	// StatusSecretRevealed means the destination withdrawal exposed the
	// secret, which is recorded and replayable on the source side.
	StatusSecretRevealed
	// StatusRedeemed means both legs paid out.
	StatusRedeemed
	// StatusCancelled means the swap timed out and both legs were returned.
	StatusCancelled
)

// String satisfies fmt.Stringer.
func (s SwapStatus) String() string {
	switch s {
	case StatusSourceDeployed:
		return "source deployed"
	case StatusDestinationDeployed:
		return "destination deployed"
	case StatusSecretRevealed:
		return "secret revealed"
	case StatusRedeemed:
		return "redeemed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// dbBytes is a versioned blob under construction.
type dbBytes = encode.BuildyBytes

// SwapRecord is the stored state of one swap, keyed by order hash.
type SwapRecord struct {
	OrderHash common.Hash
	Status    SwapStatus
	// SrcEscrow and DstEscrow are the deployed escrow addresses on their
	// respective ledgers.
	SrcEscrow common.Address
	DstEscrow common.Address
	// Hashlock commits to the secret; Secret is all zeros until revealed.
	Hashlock common.Hash
	Secret   [32]byte
	// Amounts held by each leg.
	SrcAmount *big.Int
	DstAmount *big.Int
	// Stamp is the last update time, unix milliseconds.
	Stamp time.Time
}

// Encode serializes the record as a versioned blob.
func (r *SwapRecord) Encode() []byte {
	srcAmt, dstAmt := r.SrcAmount, r.DstAmount
	if srcAmt == nil {
		srcAmt = new(big.Int)
	}
	if dstAmt == nil {
		dstAmt = new(big.Int)
	}
	return dbBytes{0}.
		AddData(r.OrderHash[:]).
		AddData([]byte{byte(r.Status)}).
		AddData(r.SrcEscrow[:]).
		AddData(r.DstEscrow[:]).
		AddData(r.Hashlock[:]).
		AddData(r.Secret[:]).
		AddData(srcAmt.Bytes()).
		AddData(dstAmt.Bytes()).
		AddData(encode.Uint64Bytes(uint64(r.Stamp.UnixMilli())))
}

// DecodeSwapRecord decodes the versioned blob into a *SwapRecord.
func DecodeSwapRecord(b []byte) (*SwapRecord, error) {
	ver, pushes, err := encode.DecodeBlob(b)
	if err != nil {
		return nil, err
	}
	switch ver {
	case 0:
		return decodeSwapRecord_v0(pushes)
	}
	return nil, fmt.Errorf("unknown SwapRecord version %d", ver)
}

func decodeSwapRecord_v0(pushes [][]byte) (*SwapRecord, error) {
	if len(pushes) != 9 {
		return nil, fmt.Errorf("decodeSwapRecord: expected 9 data pushes, got %d", len(pushes))
	}
	if len(pushes[1]) != 1 {
		return nil, fmt.Errorf("decodeSwapRecord: bad status push length %d", len(pushes[1]))
	}
	r := &SwapRecord{
		OrderHash: common.BytesToHash(pushes[0]),
		Status:    SwapStatus(pushes[1][0]),
		SrcEscrow: common.BytesToAddress(pushes[2]),
		DstEscrow: common.BytesToAddress(pushes[3]),
		Hashlock:  common.BytesToHash(pushes[4]),
		SrcAmount: new(big.Int).SetBytes(pushes[6]),
		DstAmount: new(big.Int).SetBytes(pushes[7]),
		Stamp:     encode.UnixTimeMilli(int64(encode.BytesToUint64(pushes[8]))),
	}
	if len(pushes[5]) != len(r.Secret) {
		return nil, fmt.Errorf("decodeSwapRecord: bad secret push length %d", len(pushes[5]))
	}
	copy(r.Secret[:], pushes[5])
	return r, nil
}

// SwapStore is the persistence boundary for swap records.
type SwapStore interface {
	// StoreSwap saves or replaces the record keyed by its order hash.
	StoreSwap(r *SwapRecord) error
	// Swap retrieves a record by order hash.
	Swap(orderHash common.Hash) (*SwapRecord, error)
	// ActiveSwaps lists records that have not reached a terminal status.
	ActiveSwaps() ([]*SwapRecord, error)
	// Close releases the store.
	Close() error
}
