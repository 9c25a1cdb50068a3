package port

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentLedger is the fungible token the marketplace settles in. Amounts
// are non-negative; implementations must apply each call all-or-nothing.
type PaymentLedger interface {
	// Mint credits freshly created supply to an account. Only the ledger
	// owner may mint.
	Mint(actor, to common.Address, amount *big.Int) error

	BalanceOf(addr common.Address) *big.Int

	// Approve lets spender pull up to amount from owner via TransferFrom.
	Approve(owner, spender common.Address, amount *big.Int) error
	Allowance(owner, spender common.Address) *big.Int

	// Transfer moves amount from `from` to `to`. `from` is the authorizing
	// party: implementations must enforce nothing beyond balance
	// sufficiency. The engine depends on that when unwinding a partially
	// applied settlement, where `from` is not the engine itself.
	Transfer(from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount from `from` to `to` on the strength of the
	// allowance `from` granted to `spender`, decrementing it.
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}
