package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestActiveBalance(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceAdvance})
	balance := st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceAdvance, Amount: dec("200")})

	got, err := l.ActiveBalance(ctx, account)
	require.NoError(t, err)
	require.Equal(t, balance.ID, got.ID)
	require.True(t, got.Amount.Equal(dec("200")))
}

func TestActiveBalanceIntegrity(t *testing.T) {
	// Два активных баланса одного типа — ошибка целостности данных
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceAdvance})
	st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceAdvance})
	st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceAdvance})

	_, err := l.ActiveBalance(ctx, account)
	require.ErrorIs(t, err, model.ErrBalanceIntegrity)
}

func TestActiveBalanceMissing(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceCredit})
	_, err := l.ActiveBalance(ctx, account)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDebitAdvanceStrict(t *testing.T) {
	// Авансовый баланс не уходит ниже нуля: списание отклоняется без изменений
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceAdvance})
	balance := st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceAdvance, Amount: dec("10")})

	status, err := l.Debit(ctx, account, &balance, dec("15"))
	require.NoError(t, err)
	require.Equal(t, model.StatusOutOfFunds, status)

	stored, ok := st.BalanceByID(balance.ID)
	require.True(t, ok)
	require.True(t, stored.Amount.Equal(dec("10")))

	status, err = l.Debit(ctx, account, &balance, dec("10"))
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, balance.Amount.IsZero())
}

func TestDebitCreditLimit(t *testing.T) {
	// Кредитный баланс: -95 при лимите 100, списание 10 отклоняется
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceCredit, CreditLimit: dec("100")})
	balance := st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceCredit, Amount: dec("-95")})

	status, err := l.Debit(ctx, account, &balance, dec("10"))
	require.NoError(t, err)
	require.Equal(t, model.StatusOutOfFunds, status)
	require.True(t, balance.Amount.Equal(dec("-95")))

	status, err = l.Debit(ctx, account, &balance, dec("5"))
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, balance.Amount.Equal(dec("-100")))
}

func TestSettleBill(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceAdvance})
	balance := st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceAdvance, Amount: dec("50")})

	bill := model.Bill{Debt: dec("7.5")}
	require.NoError(t, st.AddBill(ctx, &bill))

	status, err := l.SettleBill(ctx, account, &balance, &bill)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, bill.Debt.IsZero())
	require.True(t, bill.Paid.Equal(dec("7.5")))
	require.True(t, balance.Amount.Equal(dec("42.5")))
}

func TestSettleBillOutOfFundsKeepsDebt(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceCredit, CreditLimit: dec("100")})
	balance := st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceCredit, Amount: dec("-95")})

	bill := model.Bill{Debt: dec("10")}
	require.NoError(t, st.AddBill(ctx, &bill))

	status, err := l.SettleBill(ctx, account, &balance, &bill)
	require.NoError(t, err)
	require.Equal(t, model.StatusOutOfFunds, status)
	require.True(t, bill.Debt.Equal(dec("10")))
	require.True(t, bill.Paid.IsZero())
	require.True(t, balance.Amount.Equal(dec("-95")))
}

func TestSettleBillPartial(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	account := st.AddAccount(model.Account{CalcMethod: model.BalanceCredit, CreditLimit: dec("100")})
	balance := st.AddBalance(model.Balance{AccountID: account.ID, Type: model.BalanceCredit, Amount: dec("40")})

	bill := model.Bill{Debt: dec("30")}
	require.NoError(t, st.AddBill(ctx, &bill))

	status, err := l.SettleBillPartial(ctx, account, &balance, &bill, dec("10"))
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, bill.Debt.Equal(dec("20")))
	require.True(t, bill.Paid.Equal(dec("10")))
	require.True(t, balance.Amount.Equal(dec("30")))
}
