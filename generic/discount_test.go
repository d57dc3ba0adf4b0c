package generic_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/nerc/billing-engine/generic"
)

// =============================================================================
// TEST ACCOUNT
// =============================================================================

// fakeAccount is a minimal in-memory DiscountAccount.
type fakeAccount struct {
	balance decimal.Decimal
	applied decimal.Decimal
	codes   []string
}

func (a *fakeAccount) SourceBalance() decimal.Decimal { return a.balance }

func (a *fakeAccount) Consume(applied decimal.Decimal) {
	a.applied = applied
	a.balance = a.balance.Sub(applied)
}

func (a *fakeAccount) AppendCode(code string) { a.codes = append(a.codes, code) }

func accounts(balances ...string) []*fakeAccount {
	out := make([]*fakeAccount, len(balances))
	for i, b := range balances {
		out[i] = &fakeAccount{balance: generic.MustDecimal(b)}
	}
	return out
}

func asDiscountAccounts(accts []*fakeAccount) []generic.DiscountAccount {
	out := make([]generic.DiscountAccount, len(accts))
	for i, a := range accts {
		out[i] = a
	}
	return out
}

// =============================================================================
// FLAT DISCOUNT ENGINE
// =============================================================================

func TestApplyFlatDiscount_AmountCoversSingleAccount(t *testing.T) {
	// GIVEN: One account with balance 100 and a pool of 1000
	// WHEN: Applying the discount
	// THEN: 100 is consumed, balance reaches zero

	accts := accounts("100")
	used := generic.ApplyFlatDiscount(asDiscountAccounts(accts), generic.MustDecimal("1000"), "0002")

	assert.Equal(t, "100.00", generic.FormatMoney(used))
	assert.True(t, accts[0].balance.IsZero())
	assert.Equal(t, []string{"0002"}, accts[0].codes)
}

func TestApplyFlatDiscount_AmountExhaustsMidway(t *testing.T) {
	// GIVEN: Accounts with balances 500 and 1000, pool of 1000
	// WHEN: Applying in order
	// THEN: First takes 500, second takes the remaining 500 and keeps 500

	accts := accounts("500", "1000")
	used := generic.ApplyFlatDiscount(asDiscountAccounts(accts), generic.MustDecimal("1000"), "")

	assert.Equal(t, "1000.00", generic.FormatMoney(used))
	assert.Equal(t, "500.00", generic.FormatMoney(accts[0].applied))
	assert.Equal(t, "500.00", generic.FormatMoney(accts[1].applied))
	assert.Equal(t, "500.00", generic.FormatMoney(accts[1].balance))
}

func TestApplyFlatDiscount_ExhaustedPoolSkipsLaterAccounts(t *testing.T) {
	// GIVEN: Pool exactly covering the first account
	// WHEN: Applying
	// THEN: The second account is never visited

	accts := accounts("300", "200")
	used := generic.ApplyFlatDiscount(asDiscountAccounts(accts), generic.MustDecimal("300"), "0002")

	assert.Equal(t, "300.00", generic.FormatMoney(used))
	assert.True(t, accts[1].applied.IsZero())
	assert.Empty(t, accts[1].codes, "untouched account must not receive a code")
}

func TestApplyFlatDiscount_ZeroBalanceAccountGetsNoCode(t *testing.T) {
	// GIVEN: A zero-balance account ahead of a funded one
	// THEN: Zero application is recorded but no code is appended

	accts := accounts("0", "50")
	used := generic.ApplyFlatDiscount(asDiscountAccounts(accts), generic.MustDecimal("80"), "0002")

	assert.Equal(t, "50.00", generic.FormatMoney(used))
	assert.Empty(t, accts[0].codes)
	assert.Equal(t, []string{"0002"}, accts[1].codes)
}

func TestApplyFlatDiscount_NonPositiveAmountIsNoOp(t *testing.T) {
	accts := accounts("100")
	used := generic.ApplyFlatDiscount(asDiscountAccounts(accts), decimal.Zero, "0002")

	assert.True(t, used.IsZero())
	assert.Equal(t, "100.00", generic.FormatMoney(accts[0].balance))
}
