package processing

import (
	"time"

	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/config"
)

// maxBackoffShift bounds the exponent so the doubling never overflows
const maxBackoffShift = 16

// retryDelay computes the backoff before the next attempt. retryCount is
// the number of retries already performed for the current step.
//
// Shape by category:
//   - rate limited: fixed floor, then doubling on top of it
//   - connection:   plain exponential doubling
//   - ledger unknown: doubling; once the payment is verified only a missing
//     timestamp is being filled in, so the delay is scaled up and capped
func retryDelay(policy *config.Policy, category payment.Category, verified bool, retryCount int) time.Duration {
	shift := retryCount
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	exp := policy.RetryBase.Std() << uint(shift)

	switch category {
	case payment.CategoryRateLimited:
		return policy.RateLimitFloor.Std() + exp
	case payment.CategoryLedgerUnknown:
		if verified {
			d := exp * time.Duration(policy.VerifiedBackoffMultiplier)
			if cap := policy.VerifiedBackoffCap.Std(); d > cap {
				return cap
			}
			return d
		}
		return exp
	default:
		return exp
	}
}
