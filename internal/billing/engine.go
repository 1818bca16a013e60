// Package billing — ядро биллинга: тарификация использованных услуг,
// платежи, подключение и отключение услуг и тарифов.
//
// Нехватка средств (out_of_funds) — всегда статус, а не ошибка. Движок не
// делает повторных попыток: восстановление (пополнение, бесплатное сообщение)
// лежит на вызывающей стороне.
package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"operator-billing-backend/internal/catalog"
	"operator-billing-backend/internal/ledger"
	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/packet"
	"operator-billing-backend/internal/store"
)

type Engine struct {
	store  store.Repository
	cat    *catalog.Catalog
	ledger *ledger.Ledger
	meter  *packet.Meter
}

func New(st store.Repository) *Engine {
	return &Engine{
		store:  st,
		cat:    catalog.New(st),
		ledger: ledger.New(st),
		meter:  packet.New(st),
	}
}

// Catalog — каталог, с которым работает движок
func (e *Engine) Catalog() *catalog.Catalog {
	return e.cat
}

func (e *Engine) device(ctx context.Context, deviceID int64) (model.Device, error) {
	device, ok, err := e.store.DeviceByID(ctx, deviceID)
	if err != nil {
		return model.Device{}, err
	}
	if !ok {
		return model.Device{}, fmt.Errorf("устройство %d: %w", deviceID, model.ErrNotFound)
	}
	return device, nil
}

func (e *Engine) account(ctx context.Context, accountID int64) (model.Account, error) {
	account, ok, err := e.store.AccountByID(ctx, accountID)
	if err != nil {
		return model.Account{}, err
	}
	if !ok {
		return model.Account{}, fmt.Errorf("счёт %d: %w", accountID, model.ErrNotFound)
	}
	return account, nil
}

// DeviceBalance — активный баланс счёта устройства (для справочных запросов)
func (e *Engine) DeviceBalance(ctx context.Context, deviceID int64) (model.Balance, error) {
	device, err := e.device(ctx, deviceID)
	if err != nil {
		return model.Balance{}, err
	}
	account, err := e.account(ctx, device.AccountID)
	if err != nil {
		return model.Balance{}, err
	}
	return e.ledger.ActiveBalance(ctx, account)
}

// tariffAttached — множество услуг, входящих в текущий тариф устройства
func (e *Engine) tariffAttached(ctx context.Context, device model.Device) (map[int64]bool, error) {
	attached := map[int64]bool{}
	if device.TariffID == 0 {
		return attached, nil
	}
	tariff, ok, err := e.store.ServiceByID(ctx, device.TariffID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("тариф %d устройства %d: %w", device.TariffID, device.ID, model.ErrNotFound)
	}
	for _, id := range tariff.AttachedIDs {
		attached[id] = true
	}
	return attached, nil
}

// UseService — регистрация использования услуги устройством: создаёт запись
// журнала и тарифицирует её. amount — целые единицы (минуты, штуки, мегабайты)
func (e *Engine) UseService(ctx context.Context, deviceID int64, serviceName string, amount int, recipientPhoneID int64, date time.Time) (model.ServiceStatus, error) {
	active, err := e.store.ActiveDeviceServices(ctx, deviceID, 0)
	if err != nil {
		return model.StatusFail, err
	}

	var deviceService model.DeviceService
	found := false
	for _, ds := range active {
		svc, ok, err := e.store.ServiceByID(ctx, ds.ServiceID)
		if err != nil {
			return model.StatusFail, err
		}
		if ok && svc.Name == serviceName {
			deviceService = ds
			found = true
			break
		}
	}
	if !found {
		return model.StatusFail, fmt.Errorf("устройство %d: подключённая услуга %q: %w",
			deviceID, serviceName, model.ErrNotFound)
	}

	serviceLog := model.ServiceLog{
		DeviceServiceID:  deviceService.ID,
		Action:           model.ActionUsage,
		UseDate:          date,
		Amount:           amount,
		RecipientPhoneID: recipientPhoneID,
	}
	if err := e.store.AddServiceLog(ctx, &serviceLog); err != nil {
		return model.StatusFail, err
	}
	return e.HandleUsedService(ctx, &serviceLog)
}

// HandleUsedService — тарификация одного события использования:
// сначала пакеты, затем повременная оплата по каталогу стоимостей
func (e *Engine) HandleUsedService(ctx context.Context, serviceLog *model.ServiceLog) (model.ServiceStatus, error) {
	if serviceLog.IsFree {
		return model.StatusSuccess, nil
	}

	deviceService, ok, err := e.store.DeviceServiceByID(ctx, serviceLog.DeviceServiceID)
	if err != nil {
		return model.StatusFail, err
	}
	if !ok {
		return model.StatusFail, fmt.Errorf("подключение %d: %w", serviceLog.DeviceServiceID, model.ErrNotFound)
	}
	service, ok, err := e.store.ServiceByID(ctx, deviceService.ServiceID)
	if err != nil {
		return model.StatusFail, err
	}
	if !ok {
		return model.StatusFail, fmt.Errorf("услуга %d: %w", deviceService.ServiceID, model.ErrNotFound)
	}
	device, err := e.device(ctx, deviceService.DeviceID)
	if err != nil {
		return model.StatusFail, err
	}

	unpaid := serviceLog.Amount
	hasPackets := false

	if packetType, ok := packet.TypeForService(service.Name); ok {
		attached, err := e.tariffAttached(ctx, device)
		if err != nil {
			return model.StatusFail, err
		}
		unpaid, hasPackets, err = e.meter.Charge(ctx, device.ID, packetType, unpaid, attached)
		if err != nil {
			return model.StatusFail, err
		}
	}

	if unpaid == 0 {
		return model.StatusSuccess, nil
	}

	// Интернет с подключённым пакетом не переходит в повременную оплату:
	// после исчерпания пакета скорость ограничивается, доплаты нет
	if service.Name == "internet" && hasPackets {
		log.Printf("Пакет интернета исчерпан, устройство %d переведено на пониженную скорость", device.ID)
		return model.StatusSuccess, nil
	}

	deviceOperator, err := e.cat.DeviceOperator(ctx, device.PhoneNumberID)
	if err != nil {
		return model.StatusFail, err
	}

	var operatorToID int64
	if serviceLog.RecipientPhoneID != 0 {
		recipient, ok, err := e.store.PhoneNumberByID(ctx, serviceLog.RecipientPhoneID)
		if err != nil {
			return model.StatusFail, err
		}
		if !ok {
			return model.StatusFail, fmt.Errorf("номер получателя %d: %w", serviceLog.RecipientPhoneID, model.ErrNotFound)
		}
		operatorToID = recipient.OperatorID
	}

	cost, err := e.cat.CostFor(ctx, deviceOperator.ID, operatorToID, service.ID)
	if err != nil {
		return model.StatusFail, err
	}

	debt := cost.UseCost.Mul(decimal.NewFromInt(int64(unpaid)))
	log.Printf("Выставляем счёт: к оплате %s (%d x %s) за услугу %s",
		debt, unpaid, cost.UseCost, service.Name)

	bill := model.Bill{
		ServiceLogID: serviceLog.ID,
		DateCreated:  serviceLog.UseDate,
		Debt:         debt,
	}
	if err := e.store.AddBill(ctx, &bill); err != nil {
		return model.StatusFail, err
	}
	serviceLog.BillID = bill.ID
	if err := e.store.UpdateServiceLog(ctx, *serviceLog); err != nil {
		return model.StatusFail, err
	}

	return e.settle(ctx, device, &bill)
}

// settle — погашение счёта с активного баланса устройства
func (e *Engine) settle(ctx context.Context, device model.Device, bill *model.Bill) (model.ServiceStatus, error) {
	account, err := e.account(ctx, device.AccountID)
	if err != nil {
		return model.StatusFail, err
	}
	balance, err := e.ledger.ActiveBalance(ctx, account)
	if err != nil {
		return model.StatusFail, err
	}

	status, err := e.ledger.SettleBill(ctx, account, &balance, bill)
	if err != nil {
		return status, err
	}
	if status == model.StatusOutOfFunds {
		log.Printf("Недостаточно средств на балансе %s счёта %d, долг %s остаётся",
			balance.Type, account.ID, bill.Debt)
	}
	return status, nil
}

// HandlePayment — зачисление платежа на активный баланс. Для кредитных
// счетов платёж дополнительно разносится по неоплаченным счетам в порядке
// их создания, частичная оплата допускается
func (e *Engine) HandlePayment(ctx context.Context, accountID int64, payment *model.Payment) error {
	if payment.Method == model.PaymentCreditCard {
		return fmt.Errorf("оплата картой: %w", model.ErrUnsupported)
	}

	account, err := e.account(ctx, accountID)
	if err != nil {
		return err
	}
	payment.AccountID = accountID
	if err := e.store.AddPayment(ctx, payment); err != nil {
		return err
	}

	balance, err := e.ledger.ActiveBalance(ctx, account)
	if err != nil {
		return err
	}
	log.Printf("Пополняем баланс %s счёта %d на %s", balance.Type, account.ID, payment.Amount)
	if err := e.ledger.Credit(ctx, &balance, payment.Amount); err != nil {
		return err
	}

	if balance.Type != model.BalanceCredit {
		return nil
	}

	// Разнесение платежа по долгам кредитного счёта
	bills, err := e.store.UnpaidBills(ctx, accountID)
	if err != nil {
		return err
	}
	remaining := payment.Amount
	for i := range bills {
		if !remaining.IsPositive() {
			break
		}
		pay := remaining
		if bills[i].Debt.LessThan(pay) {
			pay = bills[i].Debt
		}
		status, err := e.ledger.SettleBillPartial(ctx, account, &balance, &bills[i], pay)
		if err != nil {
			return err
		}
		if status != model.StatusSuccess {
			break
		}
		remaining = remaining.Sub(pay)
	}
	return nil
}

// HandleConnectedService — событие подключения: запись в журнал и разовое
// списание стоимости активации, если подключение не бесплатное
func (e *Engine) HandleConnectedService(ctx context.Context, deviceService model.DeviceService, freeActivation bool) (model.ServiceStatus, error) {
	service, ok, err := e.store.ServiceByID(ctx, deviceService.ServiceID)
	if err != nil {
		return model.StatusFail, err
	}
	if !ok {
		return model.StatusFail, fmt.Errorf("услуга %d: %w", deviceService.ServiceID, model.ErrNotFound)
	}

	free := freeActivation || !service.ActivationCost.IsPositive()
	serviceLog := model.ServiceLog{
		DeviceServiceID: deviceService.ID,
		Action:          model.ActionActivation,
		UseDate:         deviceService.DateFrom,
		Amount:          1,
		IsFree:          free,
	}
	if err := e.store.AddServiceLog(ctx, &serviceLog); err != nil {
		return model.StatusFail, err
	}

	if free {
		return model.StatusSuccess, nil
	}

	log.Printf("Списываем стоимость активации услуги %s: %s", service.Name, service.ActivationCost)
	bill := model.Bill{
		ServiceLogID: serviceLog.ID,
		DateCreated:  deviceService.DateFrom,
		Debt:         service.ActivationCost,
	}
	if err := e.store.AddBill(ctx, &bill); err != nil {
		return model.StatusFail, err
	}
	serviceLog.BillID = bill.ID
	if err := e.store.UpdateServiceLog(ctx, serviceLog); err != nil {
		return model.StatusFail, err
	}

	device, err := e.device(ctx, deviceService.DeviceID)
	if err != nil {
		return model.StatusFail, err
	}
	return e.settle(ctx, device, &bill)
}
