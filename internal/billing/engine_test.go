package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testDate = time.Date(2015, 6, 6, 12, 0, 0, 0, time.UTC)

// fixture — оператор, счёт с балансом и устройство с номером
type fixture struct {
	st      *memory.Store
	engine  *Engine
	op      model.MobileOperator
	account model.Account
	balance model.Balance
	device  model.Device
}

func newFixture(t *testing.T, balanceType model.BalanceType, amount, creditLimit string) *fixture {
	t.Helper()
	st := memory.New()

	op := st.AddOperator(model.MobileOperator{Name: "MTS", Country: "Russia", Region: "Moskva"})
	pn := st.AddPhoneNumber(model.PhoneNumber{AreaCode: "916", Number: "0000001", OperatorID: op.ID})
	account := st.AddAccount(model.Account{
		CalcMethod:  balanceType,
		CreditLimit: dec(creditLimit),
	})
	balance := st.AddBalance(model.Balance{
		AccountID:   account.ID,
		Type:        balanceType,
		Amount:      dec(amount),
		DateCreated: testDate,
	})
	device := st.AddDevice(model.Device{
		AccountID:     account.ID,
		IMEI:          "490154203237518",
		Type:          "phone",
		PhoneNumberID: pn.ID,
	})

	return &fixture{
		st:      st,
		engine:  New(st),
		op:      op,
		account: account,
		balance: balance,
		device:  device,
	}
}

// connectService — подключение услуги без списаний (для подготовки теста)
func (f *fixture) connectService(t *testing.T, svc model.Service) model.DeviceService {
	t.Helper()
	status, err := f.engine.ConnectService(context.Background(), f.device.ID, svc, testDate, true, false)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)

	active, err := f.st.ActiveDeviceServices(context.Background(), f.device.ID, svc.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	return active[0]
}

func (f *fixture) balanceAmount(t *testing.T) decimal.Decimal {
	t.Helper()
	b, ok := f.st.BalanceByID(f.balance.ID)
	require.True(t, ok)
	return b.Amount
}

func TestHandleUsedServiceFreeLog(t *testing.T) {
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	serviceLog := model.ServiceLog{IsFree: true, Amount: 5}

	status, err := f.engine.HandleUsedService(context.Background(), &serviceLog)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("200")))
}

func TestMeteredFallback(t *testing.T) {
	// Пакета нет: 5 минут по 1.5 — один счёт с долгом 7.5, баланс уменьшается
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	call := f.st.AddService(model.Service{Name: "outgoing_call", Kind: model.KindService})
	f.st.AddCost(model.Cost{ServiceID: call.ID, OperatorFromID: f.op.ID, UseCost: dec("1.5")})
	f.connectService(t, call)

	status, err := f.engine.UseService(ctx, f.device.ID, "outgoing_call", 5, 0, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("192.5")),
		"баланс: %s", f.balanceAmount(t))

	bills, err := f.st.UnpaidBills(ctx, f.account.ID)
	require.NoError(t, err)
	require.Empty(t, bills)
}

func TestMeteredCostByRecipientOperator(t *testing.T) {
	// Для звонка на другого оператора берётся точная пара, не строка "до любого"
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	other := f.st.AddOperator(model.MobileOperator{Name: "Beeline", Country: "Russia"})
	recipient := f.st.AddPhoneNumber(model.PhoneNumber{AreaCode: "903", Number: "7654321", OperatorID: other.ID})

	call := f.st.AddService(model.Service{Name: "outgoing_call", Kind: model.KindService})
	f.st.AddCost(model.Cost{ServiceID: call.ID, OperatorFromID: f.op.ID, UseCost: dec("1.5")})
	f.st.AddCost(model.Cost{ServiceID: call.ID, OperatorFromID: f.op.ID, OperatorToID: other.ID, UseCost: dec("3")})
	f.connectService(t, call)

	status, err := f.engine.UseService(ctx, f.device.ID, "outgoing_call", 2, recipient.ID, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("194")))
}

func TestPacketBeforeMetered(t *testing.T) {
	// Пока есть пакет, повременная оплата не начисляется
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	pack := f.st.AddService(model.Service{
		Name: "outgoing_call", Kind: model.KindService,
		Packet: &model.Packet{Type: model.PacketVoice, Amount: 10},
	})
	f.st.AddCost(model.Cost{ServiceID: pack.ID, OperatorFromID: f.op.ID, UseCost: dec("1.5")})
	f.connectService(t, pack)

	status, err := f.engine.UseService(ctx, f.device.ID, "outgoing_call", 10, 0, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("200")))

	// Пакет исчерпан — следующий звонок уже повременный
	status, err = f.engine.UseService(ctx, f.device.ID, "outgoing_call", 2, 0, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("197")))
}

func TestInternetOverflowIsFree(t *testing.T) {
	// Интернет с пакетом (даже пустым) никогда не переходит в повременную оплату
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	internet := f.st.AddService(model.Service{
		Name: "internet", Kind: model.KindService,
		Packet: &model.Packet{Type: model.PacketInternet, Amount: 100},
	})
	f.st.AddCost(model.Cost{ServiceID: internet.ID, OperatorFromID: f.op.ID, UseCost: dec("10")})
	f.connectService(t, internet)

	status, err := f.engine.UseService(ctx, f.device.ID, "internet", 150, 0, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("200")))

	// Пакет пуст — трафик по-прежнему бесплатный
	status, err = f.engine.UseService(ctx, f.device.ID, "internet", 500, 0, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("200")))

	bills, err := f.st.UnpaidBills(ctx, f.account.ID)
	require.NoError(t, err)
	require.Empty(t, bills)
}

func TestUsageOutOfFundsKeepsDebt(t *testing.T) {
	// Кредитный лимит исчерпан: статус out_of_funds, долг остаётся на счёте
	ctx := context.Background()
	f := newFixture(t, model.BalanceCredit, "-95", "100")

	call := f.st.AddService(model.Service{Name: "outgoing_call", Kind: model.KindService})
	f.st.AddCost(model.Cost{ServiceID: call.ID, OperatorFromID: f.op.ID, UseCost: dec("2")})
	f.connectService(t, call)

	status, err := f.engine.UseService(ctx, f.device.ID, "outgoing_call", 5, 0, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusOutOfFunds, status)
	require.True(t, f.balanceAmount(t).Equal(dec("-95")))

	bills, err := f.st.UnpaidBills(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	require.True(t, bills[0].Debt.Equal(dec("10")))
}

func TestHandlePaymentAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "50", "0")

	payment := model.Payment{Method: model.PaymentCash, Amount: dec("100"), Date: testDate}
	require.NoError(t, f.engine.HandlePayment(ctx, f.account.ID, &payment))
	require.True(t, f.balanceAmount(t).Equal(dec("150")))
}

func TestHandlePaymentCreditSweep(t *testing.T) {
	// Два долга (30 и 20) и платёж 40: первый счёт гасится целиком,
	// второй — частично
	ctx := context.Background()
	f := newFixture(t, model.BalanceCredit, "-95", "200")

	call := f.st.AddService(model.Service{Name: "outgoing_call", Kind: model.KindService})
	ds := f.connectService(t, call)

	log1 := model.ServiceLog{DeviceServiceID: ds.ID, Action: model.ActionUsage, Amount: 1}
	require.NoError(t, f.st.AddServiceLog(ctx, &log1))
	bill1 := model.Bill{ServiceLogID: log1.ID, DateCreated: testDate, Debt: dec("30")}
	require.NoError(t, f.st.AddBill(ctx, &bill1))

	log2 := model.ServiceLog{DeviceServiceID: ds.ID, Action: model.ActionUsage, Amount: 1}
	require.NoError(t, f.st.AddServiceLog(ctx, &log2))
	bill2 := model.Bill{ServiceLogID: log2.ID, DateCreated: testDate.Add(time.Hour), Debt: dec("20")}
	require.NoError(t, f.st.AddBill(ctx, &bill2))

	payment := model.Payment{Method: model.PaymentThirdParty, Name: "QIWI", Amount: dec("40"), Date: testDate}
	require.NoError(t, f.engine.HandlePayment(ctx, f.account.ID, &payment))

	got1, ok := f.st.BillByID(bill1.ID)
	require.True(t, ok)
	require.True(t, got1.Debt.IsZero())
	require.True(t, got1.Paid.Equal(dec("30")))

	got2, ok := f.st.BillByID(bill2.ID)
	require.True(t, ok)
	require.True(t, got2.Debt.Equal(dec("10")))
	require.True(t, got2.Paid.Equal(dec("10")))
}

func TestHandlePaymentCreditCardUnsupported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "50", "0")

	payment := model.Payment{Method: model.PaymentCreditCard, Amount: dec("100"), Date: testDate}
	err := f.engine.HandlePayment(ctx, f.account.ID, &payment)
	require.ErrorIs(t, err, model.ErrUnsupported)
	require.True(t, f.balanceAmount(t).Equal(dec("50")))
}

func TestHandleConnectedServiceBillsActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	svc := f.st.AddService(model.Service{
		Name: "BIT", Kind: model.KindService, ActivationCost: dec("25"),
	})
	status, err := f.engine.ConnectService(ctx, f.device.ID, svc, testDate, false, true)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("175")))
}

func TestHandleConnectedServiceFreeActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	svc := f.st.AddService(model.Service{
		Name: "BIT", Kind: model.KindService, ActivationCost: dec("25"),
	})
	status, err := f.engine.ConnectService(ctx, f.device.ID, svc, testDate, true, false)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.True(t, f.balanceAmount(t).Equal(dec("200")))
}

func TestRoundCallDuration(t *testing.T) {
	tests := []struct {
		minutes, seconds, want int
	}{
		{0, 3, 0},  // до 3 секунд не тарифицируется
		{0, 4, 1},
		{5, 0, 5},
		{5, 12, 6}, // неполная минута вверх
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, RoundCallDuration(tt.minutes, tt.seconds),
			"%d мин %d сек", tt.minutes, tt.seconds)
	}
}

func TestRoundInternetSession(t *testing.T) {
	require.Equal(t, 50, RoundInternetSession(50, 21))
	require.Equal(t, 0, RoundInternetSession(0, 150))
}
