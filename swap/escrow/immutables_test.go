// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestImmutablesHash(t *testing.T) {
	rig := newTestRig(t)
	imm := rig.imm

	// Hashing is deterministic over equal content.
	if imm.Hash() != imm.Copy().Hash() {
		t.Fatalf("copy hashes differently")
	}
	// Every field change moves the hash.
	base := imm.Hash()
	mutations := map[string]func(im *Immutables){
		"order hash": func(im *Immutables) { im.OrderHash[0]++ },
		"hashlock":   func(im *Immutables) { im.Hashlock[0]++ },
		"maker":      func(im *Immutables) { im.Maker[0]++ },
		"taker":      func(im *Immutables) { im.Taker[0]++ },
		"token":      func(im *Immutables) { im.Token[0]++ },
		"amount":     func(im *Immutables) { im.Amount.Add(im.Amount, im.Amount) },
		"deposit":    func(im *Immutables) { im.SafetyDeposit.Add(im.SafetyDeposit, im.SafetyDeposit) },
		"factory":    func(im *Immutables) { im.Factory[0]++ },
		"timelocks": func(im *Immutables) {
			tl, err := im.Timelocks.WithDeployedAt(im.Timelocks.DeployedAt() + 1)
			if err != nil {
				t.Fatalf("WithDeployedAt error: %v", err)
			}
			im.Timelocks = tl
		},
	}
	for field, mutate := range mutations {
		cp := imm.Copy()
		mutate(cp)
		if cp.Hash() == base {
			t.Fatalf("mutating %s did not change the hash", field)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	rig := newTestRig(t)
	b := rig.imm.Encode()
	if len(b) != numWords*wordLen {
		t.Fatalf("encoding is %d bytes, wanted %d", len(b), numWords*wordLen)
	}
	// Addresses are left-padded into their words.
	var pad12 [12]byte
	if !bytes.Equal(b[64:76], pad12[:]) || !bytes.Equal(b[76:96], rig.imm.Maker[:]) {
		t.Fatalf("maker word misencoded: %x", b[64:96])
	}
	if !bytes.Equal(b[256:268], pad12[:]) || !bytes.Equal(b[268:288], rig.imm.Factory[:]) {
		t.Fatalf("factory word misencoded: %x", b[256:288])
	}
	// Amount occupies the low-order bytes of its word.
	if b[191] != byte(tAmount) {
		t.Fatalf("amount word misencoded: %x", b[160:192])
	}
}

func TestProxyInitCode(t *testing.T) {
	code := ProxyInitCode(tImplAddr)
	if len(code) != 55 {
		t.Fatalf("init code is %d bytes, wanted 55", len(code))
	}
	if !bytes.Equal(code[20:40], tImplAddr[:]) {
		t.Fatalf("implementation not embedded at offset 20: %x", code)
	}
	// Different implementations derive different addresses for the same salt
	// and deployer.
	salt := common.HexToHash("0x01")
	a1 := PredictAddress(tImplAddr, salt, tFactoryAddr)
	a2 := PredictAddress(tFactoryAddr, salt, tFactoryAddr)
	if a1 == a2 {
		t.Fatalf("implementation identity not part of the derived address")
	}
	// The derivation follows the CREATE2 formula over the init code hash.
	want := common.BytesToAddress(crypto.Keccak256(
		[]byte{0xff}, tFactoryAddr[:], salt[:], crypto.Keccak256(code))[12:])
	if a1 != want {
		t.Fatalf("derived %s, wanted %s", a1, want)
	}
}
