/*
fees.go - Fee schedule

PURPOSE:
  Maps (entry kind, gross amount) to (fee, net). A pure function: fees
  are computed once at write time and recorded on the entry, never
  recomputed from the schedule later. Changing a rate here changes
  future entries only.

SCHEDULE:
  purchase              0       (external funding, processor already charged)
  transfer              1.46%
  marketplace_purchase  5%
  royalty_payout        0
  withdrawal            0
  reversal              0       (record rows move no new money)

ROUNDING:
  Round half up to two decimal places, always. Net = amount - fee and
  must be strictly positive; callers reject before writing otherwise.

The schedule is a closed switch over EntryKind rather than a lookup map,
so adding a kind without a fee rule is a compile-visible gap instead of
a silent zero.
*/
package economy

import "github.com/shopspring/decimal"

var (
	transferFeeRate    = decimal.RequireFromString("0.0146")
	marketplaceFeeRate = decimal.RequireFromString("0.05")
)

// FeeResult is the outcome of a fee calculation.
type FeeResult struct {
	Fee Money
	Net Money
}

// CalculateFee computes the platform fee and the net a recipient
// receives for a movement of the given kind and gross amount.
// Returns ErrUnknownTransactionType for kinds outside the schedule.
func CalculateFee(kind EntryKind, amount Money) (FeeResult, error) {
	var fee Money
	switch kind {
	case KindTransfer:
		fee = RoundMoney(amount.Mul(transferFeeRate))
	case KindMarketplacePurchase:
		fee = RoundMoney(amount.Mul(marketplaceFeeRate))
	case KindPurchase, KindRoyaltyPayout, KindWithdrawal, KindReversal:
		fee = decimal.Zero
	default:
		return FeeResult{}, ErrUnknownTransactionType
	}

	return FeeResult{Fee: fee, Net: amount.Sub(fee)}, nil
}
