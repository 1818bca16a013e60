// Package ledger — арифметика балансов и погашение счетов.
// Политика списания строгая: авансовый баланс не может уйти ниже нуля,
// кредитный — ниже минус кредитного лимита. При нехватке средств баланс
// не изменяется, возвращается статус out_of_funds.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store"
)

type Ledger struct {
	store store.Repository
}

func New(st store.Repository) *Ledger {
	return &Ledger{store: st}
}

// ActiveBalance — действующий баланс счёта (без даты закрытия).
// Ровно один такой баланс на тип — иначе ошибка целостности
func (l *Ledger) ActiveBalance(ctx context.Context, account model.Account) (model.Balance, error) {
	balances, err := l.store.ActiveBalances(ctx, account.ID, account.CalcMethod)
	if err != nil {
		return model.Balance{}, err
	}
	if len(balances) == 0 {
		return model.Balance{}, fmt.Errorf("счёт %d: активный баланс типа %s: %w",
			account.ID, account.CalcMethod, model.ErrNotFound)
	}
	if len(balances) > 1 {
		return model.Balance{}, fmt.Errorf("счёт %d: %d активных балансов типа %s: %w",
			account.ID, len(balances), account.CalcMethod, model.ErrBalanceIntegrity)
	}
	return balances[0], nil
}

// Credit — пополнение баланса
func (l *Ledger) Credit(ctx context.Context, balance *model.Balance, amount decimal.Decimal) error {
	balance.Amount = balance.Amount.Add(amount)
	return l.store.UpdateBalanceAmount(ctx, balance.ID, balance.Amount)
}

// Debit — списание с баланса. При нехватке средств баланс не трогается
func (l *Ledger) Debit(ctx context.Context, account model.Account, balance *model.Balance, amount decimal.Decimal) (model.ServiceStatus, error) {
	next := balance.Amount.Sub(amount)

	switch balance.Type {
	case model.BalanceAdvance:
		if next.IsNegative() {
			return model.StatusOutOfFunds, nil
		}
	case model.BalanceCredit:
		if next.LessThan(account.CreditLimit.Neg()) {
			return model.StatusOutOfFunds, nil
		}
	default:
		return model.StatusFail, fmt.Errorf("неизвестный тип баланса %q", balance.Type)
	}

	balance.Amount = next
	if err := l.store.UpdateBalanceAmount(ctx, balance.ID, balance.Amount); err != nil {
		return model.StatusFail, err
	}
	return model.StatusSuccess, nil
}

// SettleBill — погашение счёта целиком: списание долга с баланса,
// затем debt -> paid. Обе мутации — одна логическая транзакция
func (l *Ledger) SettleBill(ctx context.Context, account model.Account, balance *model.Balance, bill *model.Bill) (model.ServiceStatus, error) {
	status, err := l.Debit(ctx, account, balance, bill.Debt)
	if err != nil || status != model.StatusSuccess {
		return status, err
	}

	bill.Paid = bill.Paid.Add(bill.Debt)
	bill.Debt = decimal.Zero
	if err := l.store.UpdateBill(ctx, *bill); err != nil {
		return model.StatusFail, err
	}
	return model.StatusSuccess, nil
}

// SettleBillPartial — частичное погашение на сумму amount (не больше долга).
// Используется при разнесении входящего платежа по неоплаченным счетам
func (l *Ledger) SettleBillPartial(ctx context.Context, account model.Account, balance *model.Balance, bill *model.Bill, amount decimal.Decimal) (model.ServiceStatus, error) {
	if amount.GreaterThan(bill.Debt) {
		amount = bill.Debt
	}
	status, err := l.Debit(ctx, account, balance, amount)
	if err != nil || status != model.StatusSuccess {
		return status, err
	}

	bill.Paid = bill.Paid.Add(amount)
	bill.Debt = bill.Debt.Sub(amount)
	if err := l.store.UpdateBill(ctx, *bill); err != nil {
		return model.StatusFail, err
	}
	return model.StatusSuccess, nil
}
