// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xcswap/xcswap/swap/timelocks"
)

// Immutables is the write-once parameter set defining one escrow instance.
// Escrows do not store the set; callers resupply it on every call and its
// keccak hash doubles as the deployment salt and the validation key.
type Immutables struct {
	// OrderHash is an opaque correlation id for the originating agreement.
	OrderHash common.Hash
	// Hashlock is the keccak256 commitment to the swap secret.
	Hashlock common.Hash
	// Maker and Taker are the counterparty roles on this chain. The maker is
	// the depositor: cancellation and rescue return funds to the maker, and
	// withdrawal pays the taker. Roles invert between the source and
	// destination escrows of one swap.
	Maker common.Address
	Taker common.Address
	// Token and Amount are the asset and principal held.
	Token  common.Address
	Amount *big.Int
	// SafetyDeposit is the native-asset incentive paid to whoever executes a
	// withdrawal or cancellation.
	SafetyDeposit *big.Int
	// Timelocks is the packed stage schedule, stamped with the deployment
	// timestamp by the factory.
	Timelocks timelocks.Timelocks
	// Factory is the identity of the deploying factory. It is an explicit
	// field rather than being inferred from the deployment context, so an
	// escrow deployed through an indirect deployer still validates against
	// its true trust anchor.
	Factory common.Address
}

// wordLen is the fixed width of each encoded field.
const wordLen = 32

// numWords is the number of fields in the canonical encoding.
const numWords = 9

// fillWord writes the big.Int into the 32-byte word, treating nil as zero.
func fillWord(word []byte, v *big.Int) {
	if v == nil {
		return
	}
	v.FillBytes(word)
}

// Encode serializes the set into its canonical fixed-width form: each field
// occupies one 32-byte big-endian word, addresses left-padded, in declaration
// order.
func (im *Immutables) Encode() []byte {
	b := make([]byte, numWords*wordLen)
	copy(b[0:32], im.OrderHash[:])
	copy(b[32:64], im.Hashlock[:])
	copy(b[76:96], im.Maker[:])
	copy(b[108:128], im.Taker[:])
	copy(b[140:160], im.Token[:])
	fillWord(b[160:192], im.Amount)
	fillWord(b[192:224], im.SafetyDeposit)
	copy(b[224:256], im.Timelocks.Bytes())
	copy(b[268:288], im.Factory[:])
	return b
}

// Hash is the keccak256 of the canonical encoding. It is both the deployment
// salt and the key every privileged escrow call validates against.
func (im *Immutables) Hash() common.Hash {
	return crypto.Keccak256Hash(im.Encode())
}

// Copy makes a deep copy of the set.
func (im *Immutables) Copy() *Immutables {
	cp := *im
	if im.Amount != nil {
		cp.Amount = new(big.Int).Set(im.Amount)
	}
	if im.SafetyDeposit != nil {
		cp.SafetyDeposit = new(big.Int).Set(im.SafetyDeposit)
	}
	return &cp
}

func (im *Immutables) String() string {
	return fmt.Sprintf("{ order = %s, maker = %s, taker = %s, token = %s, amount = %s, deposit = %s }",
		im.OrderHash, im.Maker, im.Taker, im.Token, im.Amount, im.SafetyDeposit)
}

// Minimal-proxy (EIP-1167) init code segments. The deployed escrow is a clone
// of a fixed implementation, so the init code hash, and with it the derived
// address, commits to the implementation identity.
var (
	proxyPrefix = common.FromHex("3d602d80600a3d3981f3363d3d373d3d3d363d73")
	proxySuffix = common.FromHex("5af43d82803e903d91602b57fd5bf3")
)

// ProxyInitCode is the minimal-proxy init code for the implementation.
func ProxyInitCode(implementation common.Address) []byte {
	code := make([]byte, 0, len(proxyPrefix)+common.AddressLength+len(proxySuffix))
	code = append(code, proxyPrefix...)
	code = append(code, implementation[:]...)
	code = append(code, proxySuffix...)
	return code
}

// PredictAddress computes the deterministic deployment address for a clone of
// the implementation, keyed by the immutables hash as salt and the factory as
// deployer: keccak256(0xff ++ factory ++ salt ++ keccak256(initCode))[12:].
// The factory's prediction and every escrow's self-check must agree with this
// bit-for-bit.
func PredictAddress(implementation common.Address, immutablesHash common.Hash, factory common.Address) common.Address {
	return crypto.CreateAddress2(factory, immutablesHash, crypto.Keccak256(ProxyInitCode(implementation)))
}
