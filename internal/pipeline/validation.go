package pipeline

import (
	"fmt"
	"math"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// validateCandidate checks the invariants of a non-sentinel candidate before it is stored.
func validateCandidate(c domain.TransactionCandidate) error {
	if math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0) {
		return fmt.Errorf("validateCandidate: amount is not finite")
	}
	if c.Amount < 0 {
		return fmt.Errorf("validateCandidate: amount %v is negative", c.Amount)
	}
	if c.Amount == 0 {
		return nil
	}
	if c.Type != domain.TransactionCredit && c.Type != domain.TransactionDebit {
		return fmt.Errorf("validateCandidate: invalid type %q", c.Type)
	}
	if !c.Date.IsValid() {
		return fmt.Errorf("validateCandidate: invalid date %v", c.Date)
	}
	return nil
}
