// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package timelocks implements the packed timelock scalar that governs which
// stage-gated escrow action is legal at any instant. Seven 32-bit stage
// offsets and the 32-bit deployment timestamp are packed into one 256-bit
// value with a fixed big-endian field layout, so the encoding is identical on
// every architecture and can be carried on-chain as a single word.
package timelocks

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/xcswap/xcswap/swap"
)

// Stage identifies one of the seven time-gated action windows. The source
// role has four stages, the destination role three. A stage's offset is the
// number of seconds after deployment at which the stage opens.
type Stage uint8

const (
	// SrcWithdrawal opens taker withdrawal on the source escrow.
	SrcWithdrawal Stage = iota
	// SrcPublicWithdrawal opens withdrawal to any caller on the source
	// escrow.
	SrcPublicWithdrawal
	// SrcCancellation closes withdrawal and opens maker cancellation on the
	// source escrow.
	SrcCancellation
	// SrcPublicCancellation opens cancellation to any caller on the source
	// escrow.
	SrcPublicCancellation
	// DstWithdrawal opens taker withdrawal on the destination escrow.
	DstWithdrawal
	// DstPublicWithdrawal opens withdrawal to any caller on the destination
	// escrow.
	DstPublicWithdrawal
	// DstCancellation closes withdrawal and opens cancellation on the
	// destination escrow. There is no public cancellation stage for the
	// destination role.
	DstCancellation

	// NumStages is the number of packed stage fields.
	NumStages = 7
)

// String satisfies the Stringer interface.
func (s Stage) String() string {
	switch s {
	case SrcWithdrawal:
		return "src-withdrawal"
	case SrcPublicWithdrawal:
		return "src-public-withdrawal"
	case SrcCancellation:
		return "src-cancellation"
	case SrcPublicCancellation:
		return "src-public-cancellation"
	case DstWithdrawal:
		return "dst-withdrawal"
	case DstPublicWithdrawal:
		return "dst-public-withdrawal"
	case DstCancellation:
		return "dst-cancellation"
	}
	return "unknown"
}

// Schedule is the unpacked stage schedule. All values are offsets in seconds
// after deployment. Offsets must fit in 32 bits and must strictly increase
// within each role.
type Schedule struct {
	SrcWithdrawal         uint64
	SrcPublicWithdrawal   uint64
	SrcCancellation       uint64
	SrcPublicCancellation uint64
	DstWithdrawal         uint64
	DstPublicWithdrawal   uint64
	DstCancellation       uint64
}

// offsets returns the schedule as a Stage-indexed array.
func (s *Schedule) offsets() [NumStages]uint64 {
	return [NumStages]uint64{
		SrcWithdrawal:         s.SrcWithdrawal,
		SrcPublicWithdrawal:   s.SrcPublicWithdrawal,
		SrcCancellation:       s.SrcCancellation,
		SrcPublicCancellation: s.SrcPublicCancellation,
		DstWithdrawal:         s.DstWithdrawal,
		DstPublicWithdrawal:   s.DstPublicWithdrawal,
		DstCancellation:       s.DstCancellation,
	}
}

// Validate checks stage monotonicity for both roles.
func (s *Schedule) Validate() error {
	if s.SrcWithdrawal >= s.SrcPublicWithdrawal ||
		s.SrcPublicWithdrawal >= s.SrcCancellation ||
		s.SrcCancellation >= s.SrcPublicCancellation {

		return swap.NewError(swap.ErrStageOrder, fmt.Sprintf("source stages %d %d %d %d must strictly increase",
			s.SrcWithdrawal, s.SrcPublicWithdrawal, s.SrcCancellation, s.SrcPublicCancellation))
	}
	if s.DstWithdrawal >= s.DstPublicWithdrawal ||
		s.DstPublicWithdrawal >= s.DstCancellation {

		return swap.NewError(swap.ErrStageOrder, fmt.Sprintf("destination stages %d %d %d must strictly increase",
			s.DstWithdrawal, s.DstPublicWithdrawal, s.DstCancellation))
	}
	return nil
}

// Timelocks is the packed 256-bit timelock scalar. The deployment timestamp
// occupies bits 224-255 and stage s occupies bits 32*s through 32*s+31, with
// each field big-endian within the scalar. The zero value has no deployment
// timestamp and an invalid (all-zero) schedule.
type Timelocks [32]byte

// fieldPos returns the index of the stage's most significant byte. Bit 0 is
// the least significant bit of the final byte.
func fieldPos(s Stage) int {
	return 28 - 4*int(s)
}

// Pack encodes the deployment timestamp (unix seconds) and stage schedule
// into a Timelocks scalar. Values that do not fit their 32-bit fields are
// rejected, never truncated, as are schedules whose stages do not strictly
// increase within a role.
func Pack(deployedAt uint64, sched *Schedule) (Timelocks, error) {
	var t Timelocks
	if deployedAt > math.MaxUint32 {
		return t, swap.NewError(swap.ErrOffsetOverflow, fmt.Sprintf("deployment timestamp %d", deployedAt))
	}
	offsets := sched.offsets()
	for i, offset := range offsets {
		if offset > math.MaxUint32 {
			return t, swap.NewError(swap.ErrOffsetOverflow, fmt.Sprintf("%s offset %d", Stage(i), offset))
		}
	}
	if err := sched.Validate(); err != nil {
		return t, err
	}
	binary.BigEndian.PutUint32(t[0:4], uint32(deployedAt))
	for i, offset := range offsets {
		pos := fieldPos(Stage(i))
		binary.BigEndian.PutUint32(t[pos:pos+4], uint32(offset))
	}
	return t, nil
}

// DeployedAt is the unix timestamp stamped at deployment, zero if the scalar
// has not been stamped.
func (t Timelocks) DeployedAt() uint64 {
	return uint64(binary.BigEndian.Uint32(t[0:4]))
}

// DeployTime is the deployment timestamp as a time.Time.
func (t Timelocks) DeployTime() time.Time {
	return time.Unix(int64(t.DeployedAt()), 0).UTC()
}

// WithDeployedAt returns a copy of the scalar with the deployment timestamp
// replaced. The factory stamps the scalar at creation time.
func (t Timelocks) WithDeployedAt(deployedAt uint64) (Timelocks, error) {
	if deployedAt > math.MaxUint32 {
		return t, swap.NewError(swap.ErrOffsetOverflow, fmt.Sprintf("deployment timestamp %d", deployedAt))
	}
	binary.BigEndian.PutUint32(t[0:4], uint32(deployedAt))
	return t, nil
}

// Offset is the packed offset for the stage, in seconds after deployment.
func (t Timelocks) Offset(s Stage) uint64 {
	pos := fieldPos(s)
	return uint64(binary.BigEndian.Uint32(t[pos : pos+4]))
}

// StageTime resolves the absolute time at which the stage opens,
// deployedAt + offset(stage).
func (t Timelocks) StageTime(s Stage) time.Time {
	return time.Unix(int64(t.DeployedAt())+int64(t.Offset(s)), 0).UTC()
}

// RescueStart is the absolute time after which rescue is allowed. The rescue
// delay is fixed per escrow and independent of the stage schedule.
func (t Timelocks) RescueStart(delay time.Duration) time.Time {
	return t.DeployTime().Add(delay)
}

// Schedule unpacks the stage offsets.
func (t Timelocks) Schedule() *Schedule {
	return &Schedule{
		SrcWithdrawal:         t.Offset(SrcWithdrawal),
		SrcPublicWithdrawal:   t.Offset(SrcPublicWithdrawal),
		SrcCancellation:       t.Offset(SrcCancellation),
		SrcPublicCancellation: t.Offset(SrcPublicCancellation),
		DstWithdrawal:         t.Offset(DstWithdrawal),
		DstPublicWithdrawal:   t.Offset(DstPublicWithdrawal),
		DstCancellation:       t.Offset(DstCancellation),
	}
}

// Validate checks that the packed schedule satisfies stage monotonicity.
// Factories re-validate caller-supplied scalars rather than trusting that
// they came from Pack.
func (t Timelocks) Validate() error {
	return t.Schedule().Validate()
}

// Bytes returns the scalar as a byte slice, most significant byte first.
func (t Timelocks) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, t[:])
	return b
}

// String satisfies the Stringer interface.
func (t Timelocks) String() string {
	return hex.EncodeToString(t[:])
}
