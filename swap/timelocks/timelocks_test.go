// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package timelocks

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/xcswap/xcswap/swap"
)

func validSchedule() *Schedule {
	return &Schedule{
		SrcWithdrawal:         0,
		SrcPublicWithdrawal:   120,
		SrcCancellation:       600,
		SrcPublicCancellation: 900,
		DstWithdrawal:         60,
		DstPublicWithdrawal:   180,
		DstCancellation:       480,
	}
}

func TestPackRoundTrip(t *testing.T) {
	const deployedAt = 1_700_000_000
	sched := validSchedule()
	tl, err := Pack(deployedAt, sched)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if tl.DeployedAt() != deployedAt {
		t.Fatalf("wrong deployedAt. wanted %d, got %d", uint64(deployedAt), tl.DeployedAt())
	}
	reSched := tl.Schedule()
	if *reSched != *sched {
		t.Fatalf("schedule round trip mismatch. wanted %+v, got %+v", sched, reSched)
	}
	for s := SrcWithdrawal; s <= DstCancellation; s++ {
		want := time.Unix(deployedAt+int64(sched.offsets()[s]), 0).UTC()
		if !tl.StageTime(s).Equal(want) {
			t.Fatalf("wrong %s stage time. wanted %s, got %s", s, want, tl.StageTime(s))
		}
	}
}

func TestPackFieldIsolation(t *testing.T) {
	// Maximum legal values must not bleed into neighboring fields.
	sched := &Schedule{
		SrcWithdrawal:         math.MaxUint32 - 4,
		SrcPublicWithdrawal:   math.MaxUint32 - 3,
		SrcCancellation:       math.MaxUint32 - 2,
		SrcPublicCancellation: math.MaxUint32 - 1,
		DstWithdrawal:         math.MaxUint32 - 2,
		DstPublicWithdrawal:   math.MaxUint32 - 1,
		DstCancellation:       math.MaxUint32,
	}
	tl, err := Pack(math.MaxUint32, sched)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if *tl.Schedule() != *sched {
		t.Fatalf("field bleed. wanted %+v, got %+v", sched, tl.Schedule())
	}
	if tl.DeployedAt() != math.MaxUint32 {
		t.Fatalf("wrong deployedAt. wanted %d, got %d", uint64(math.MaxUint32), tl.DeployedAt())
	}
}

func TestPackRejections(t *testing.T) {
	tests := []struct {
		name       string
		deployedAt uint64
		mutate     func(*Schedule)
		wantErr    error
	}{{
		name:       "deployedAt overflow",
		deployedAt: math.MaxUint32 + 1,
		mutate:     func(s *Schedule) {},
		wantErr:    swap.ErrOffsetOverflow,
	}, {
		name:    "offset overflow",
		mutate:  func(s *Schedule) { s.DstCancellation = math.MaxUint32 + 1 },
		wantErr: swap.ErrOffsetOverflow,
	}, {
		name:    "src withdrawal after public withdrawal",
		mutate:  func(s *Schedule) { s.SrcWithdrawal = s.SrcPublicWithdrawal + 1 },
		wantErr: swap.ErrStageOrder,
	}, {
		name:    "src cancellation equals public cancellation",
		mutate:  func(s *Schedule) { s.SrcPublicCancellation = s.SrcCancellation },
		wantErr: swap.ErrStageOrder,
	}, {
		name:    "dst withdrawal equals public withdrawal",
		mutate:  func(s *Schedule) { s.DstPublicWithdrawal = s.DstWithdrawal },
		wantErr: swap.ErrStageOrder,
	}, {
		name:    "dst cancellation before public withdrawal",
		mutate:  func(s *Schedule) { s.DstCancellation = s.DstPublicWithdrawal - 1 },
		wantErr: swap.ErrStageOrder,
	}}

	for _, tt := range tests {
		deployedAt := tt.deployedAt
		if deployedAt == 0 {
			deployedAt = 1_700_000_000
		}
		sched := validSchedule()
		tt.mutate(sched)
		_, err := Pack(deployedAt, sched)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: wanted error %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestWithDeployedAt(t *testing.T) {
	tl, err := Pack(0, validSchedule())
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	const stamp = 1_800_000_000
	stamped, err := tl.WithDeployedAt(stamp)
	if err != nil {
		t.Fatalf("WithDeployedAt error: %v", err)
	}
	if stamped.DeployedAt() != stamp {
		t.Fatalf("wrong stamped deployedAt. wanted %d, got %d", uint64(stamp), stamped.DeployedAt())
	}
	// Offsets must be untouched by stamping.
	if *stamped.Schedule() != *validSchedule() {
		t.Fatalf("stamping altered offsets: %+v", stamped.Schedule())
	}
	// Original must be unchanged (value semantics).
	if tl.DeployedAt() != 0 {
		t.Fatalf("original scalar mutated by WithDeployedAt")
	}
	if _, err = tl.WithDeployedAt(math.MaxUint32 + 1); !errors.Is(err, swap.ErrOffsetOverflow) {
		t.Fatalf("wanted overflow error stamping 2^32, got %v", err)
	}
}

func TestValidatePacked(t *testing.T) {
	// A hostile caller can deliver any 32 bytes. Validate must reject ordering
	// violations in packed form.
	var tl Timelocks // all-zero schedule is out of order
	if err := tl.Validate(); !errors.Is(err, swap.ErrStageOrder) {
		t.Fatalf("wanted stage order error for zero scalar, got %v", err)
	}
	good, err := Pack(1_700_000_000, validSchedule())
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected Validate error: %v", err)
	}
}

func TestRescueStart(t *testing.T) {
	const deployedAt = 1_700_000_000
	tl, err := Pack(deployedAt, validSchedule())
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	delay := 30 * 24 * time.Hour
	want := time.Unix(deployedAt, 0).UTC().Add(delay)
	if !tl.RescueStart(delay).Equal(want) {
		t.Fatalf("wrong rescue start. wanted %s, got %s", want, tl.RescueStart(delay))
	}
}

func TestEncodingLayout(t *testing.T) {
	// The layout is part of the wire format: deployedAt in the top four
	// bytes, stage 0 in the bottom four.
	sched := validSchedule()
	sched.SrcWithdrawal = 1 // stage 0 must be nonzero for this check
	tl, err := Pack(0x01020304, sched)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	b := tl.Bytes()
	if b[0] != 1 || b[1] != 2 || b[2] != 3 || b[3] != 4 {
		t.Fatalf("deployedAt not big-endian in bytes 0-3: %x", b[:4])
	}
	if b[31] != 1 {
		t.Fatalf("stage 0 offset not in bytes 28-31: %x", b[28:])
	}
}
