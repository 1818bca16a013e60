package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"operator-billing-backend/internal/model"
)

// Машина состояний подключения: unconnected -> activated -> deactivated.
// Отключённая запись не переиспользуется: повторное подключение создаёт
// новую строку DeviceService, старая остаётся для истории.

// CanActivate — хватает ли средств на разовую стоимость активации
func (e *Engine) CanActivate(ctx context.Context, device model.Device, service model.Service) (bool, error) {
	account, err := e.account(ctx, device.AccountID)
	if err != nil {
		return false, err
	}
	balance, err := e.ledger.ActiveBalance(ctx, account)
	if err != nil {
		return false, err
	}

	switch balance.Type {
	case model.BalanceAdvance:
		return balance.Amount.GreaterThanOrEqual(service.ActivationCost), nil
	case model.BalanceCredit:
		return balance.Amount.Sub(service.ActivationCost).GreaterThanOrEqual(account.CreditLimit.Neg()), nil
	}
	return false, fmt.Errorf("неизвестный тип баланса %q", balance.Type)
}

// ConnectTariff — подключение тарифа. Повторное подключение того же тарифа —
// холостой ход; другой тариф сначала отключается вместе со своим набором услуг
func (e *Engine) ConnectTariff(ctx context.Context, deviceID int64, tariff model.Service, freeActivation bool, date time.Time) (model.ServiceStatus, error) {
	if !tariff.IsTariff() {
		return model.StatusFail, fmt.Errorf("услуга %q не является тарифом", tariff.Name)
	}
	device, err := e.device(ctx, deviceID)
	if err != nil {
		return model.StatusFail, err
	}

	if !freeActivation {
		can, err := e.CanActivate(ctx, device, tariff)
		if err != nil {
			return model.StatusFail, err
		}
		if !can {
			log.Printf("Устройству %d не хватает средств на подключение тарифа %s", device.ID, tariff.Name)
			return model.StatusOutOfFunds, nil
		}
	}

	if device.TariffID == tariff.ID {
		log.Printf("На устройстве %d уже подключён тариф %s", device.ID, tariff.Name)
		return model.StatusAlreadyActive, nil
	}

	if device.TariffID != 0 {
		oldTariff, ok, err := e.store.ServiceByID(ctx, device.TariffID)
		if err != nil {
			return model.StatusFail, err
		}
		if !ok {
			return model.StatusFail, fmt.Errorf("тариф %d: %w", device.TariffID, model.ErrNotFound)
		}
		log.Printf("На устройстве %d подключён тариф %s, сначала отключаем его", device.ID, oldTariff.Name)
		if err := e.deactivateBundle(ctx, device, oldTariff, date); err != nil {
			return model.StatusFail, err
		}
	}

	if err := e.store.SetDeviceTariff(ctx, device.ID, tariff.ID); err != nil {
		return model.StatusFail, err
	}
	device.TariffID = tariff.ID

	// Тариф подключается как услуга, затем его базовый набор
	if _, err := e.connect(ctx, device, tariff, date, freeActivation); err != nil {
		return model.StatusFail, err
	}
	for _, serviceID := range tariff.AttachedIDs {
		service, ok, err := e.store.ServiceByID(ctx, serviceID)
		if err != nil {
			return model.StatusFail, err
		}
		if !ok {
			return model.StatusFail, fmt.Errorf("услуга %d тарифа %s: %w", serviceID, tariff.Name, model.ErrNotFound)
		}
		if _, err := e.connect(ctx, device, service, date, freeActivation); err != nil {
			return model.StatusFail, err
		}
	}
	return model.StatusSuccess, nil
}

// ConnectService — подключение отдельной услуги
func (e *Engine) ConnectService(ctx context.Context, deviceID int64, service model.Service, date time.Time, freeActivation, checkFeasibility bool) (model.ServiceStatus, error) {
	device, err := e.device(ctx, deviceID)
	if err != nil {
		return model.StatusFail, err
	}

	if checkFeasibility && !freeActivation {
		can, err := e.CanActivate(ctx, device, service)
		if err != nil {
			return model.StatusFail, err
		}
		if !can {
			log.Printf("Устройству %d не хватает средств на подключение услуги %s", device.ID, service.Name)
			return model.StatusOutOfFunds, nil
		}
	}
	return e.connect(ctx, device, service, date, freeActivation)
}

func (e *Engine) connect(ctx context.Context, device model.Device, service model.Service, date time.Time, freeActivation bool) (model.ServiceStatus, error) {
	log.Printf("Подключаем услугу %s на устройство %d", service.Name, device.ID)

	deviceService := model.DeviceService{
		DeviceID:    device.ID,
		ServiceID:   service.ID,
		IsActivated: true,
		DateFrom:    date,
	}
	if service.Packet != nil {
		deviceService.PacketLeft = service.Packet.Amount
	}
	if err := e.store.AddDeviceService(ctx, &deviceService); err != nil {
		return model.StatusFail, err
	}
	return e.HandleConnectedService(ctx, deviceService, freeActivation)
}

// deactivateBundle — отключение тарифа вместе с привязанными услугами
func (e *Engine) deactivateBundle(ctx context.Context, device model.Device, tariff model.Service, date time.Time) error {
	if err := e.DeactivateService(ctx, device, tariff, date); err != nil {
		return err
	}
	for _, serviceID := range tariff.AttachedIDs {
		service, ok, err := e.store.ServiceByID(ctx, serviceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("услуга %d тарифа %s: %w", serviceID, tariff.Name, model.ErrNotFound)
		}
		if err := e.DeactivateService(ctx, device, service, date); err != nil {
			return err
		}
	}
	return nil
}

// DeactivateService — отключение услуги: действующие записи получают
// дату окончания и перестают участвовать в пакетном учёте
func (e *Engine) DeactivateService(ctx context.Context, device model.Device, service model.Service, date time.Time) error {
	log.Printf("Отключаем услугу %s на устройстве %d", service.Name, device.ID)

	active, err := e.store.ActiveDeviceServices(ctx, device.ID, service.ID)
	if err != nil {
		return err
	}
	for _, ds := range active {
		ds.IsActivated = false
		deactivated := date
		ds.DateTo = &deactivated
		if err := e.store.UpdateDeviceService(ctx, ds); err != nil {
			return err
		}
		serviceLog := model.ServiceLog{
			DeviceServiceID: ds.ID,
			Action:          model.ActionDeactivation,
			UseDate:         date,
			Amount:          1,
			IsFree:          true,
		}
		if err := e.store.AddServiceLog(ctx, &serviceLog); err != nil {
			return err
		}
	}
	return nil
}

// BlockService — блокировка услуги. Флаг ортогонален активации:
// даты и is_activated не меняются
func (e *Engine) BlockService(ctx context.Context, device model.Device, service model.Service, date time.Time) error {
	return e.setBlocked(ctx, device, service, date, true)
}

// UnlockService — снятие блокировки
func (e *Engine) UnlockService(ctx context.Context, device model.Device, service model.Service, date time.Time) error {
	return e.setBlocked(ctx, device, service, date, false)
}

func (e *Engine) setBlocked(ctx context.Context, device model.Device, service model.Service, date time.Time, blocked bool) error {
	action := model.ActionBlocking
	if !blocked {
		action = model.ActionUnlocking
	}
	active, err := e.store.ActiveDeviceServices(ctx, device.ID, service.ID)
	if err != nil {
		return err
	}
	for _, ds := range active {
		if ds.IsBlocked == blocked {
			continue
		}
		ds.IsBlocked = blocked
		if err := e.store.UpdateDeviceService(ctx, ds); err != nil {
			return err
		}
		serviceLog := model.ServiceLog{
			DeviceServiceID: ds.ID,
			Action:          action,
			UseDate:         date,
			Amount:          1,
			IsFree:          true,
		}
		if err := e.store.AddServiceLog(ctx, &serviceLog); err != nil {
			return err
		}
	}
	return nil
}

// HandleRequest — обработка USSD-запроса устройства
func (e *Engine) HandleRequest(ctx context.Context, request *model.Request) (model.ServiceStatus, error) {
	if request.ID == 0 {
		if err := e.store.AddRequest(ctx, request); err != nil {
			return model.StatusFail, err
		}
	}

	switch request.Type {
	case model.RequestActivation:
		if request.TariffID != 0 {
			tariff, ok, err := e.store.ServiceByID(ctx, request.TariffID)
			if err != nil {
				return model.StatusFail, err
			}
			if !ok {
				return model.StatusFail, fmt.Errorf("тариф %d: %w", request.TariffID, model.ErrNotFound)
			}
			return e.ConnectTariff(ctx, request.DeviceID, tariff, false, request.Date)
		}
		if request.ServiceID != 0 {
			service, ok, err := e.store.ServiceByID(ctx, request.ServiceID)
			if err != nil {
				return model.StatusFail, err
			}
			if !ok {
				return model.StatusFail, fmt.Errorf("услуга %d: %w", request.ServiceID, model.ErrNotFound)
			}
			return e.ConnectService(ctx, request.DeviceID, service, request.Date, false, true)
		}
		return model.StatusFail, fmt.Errorf("запрос %d: не указана услуга или тариф", request.ID)

	case model.RequestDeactivation:
		device, err := e.device(ctx, request.DeviceID)
		if err != nil {
			return model.StatusFail, err
		}
		if request.TariffID != 0 {
			tariff, ok, err := e.store.ServiceByID(ctx, request.TariffID)
			if err != nil {
				return model.StatusFail, err
			}
			if !ok {
				return model.StatusFail, fmt.Errorf("тариф %d: %w", request.TariffID, model.ErrNotFound)
			}
			if err := e.deactivateBundle(ctx, device, tariff, request.Date); err != nil {
				return model.StatusFail, err
			}
			if device.TariffID == tariff.ID {
				if err := e.store.SetDeviceTariff(ctx, device.ID, 0); err != nil {
					return model.StatusFail, err
				}
			}
			return model.StatusSuccess, nil
		}
		if request.ServiceID != 0 {
			service, ok, err := e.store.ServiceByID(ctx, request.ServiceID)
			if err != nil {
				return model.StatusFail, err
			}
			if !ok {
				return model.StatusFail, fmt.Errorf("услуга %d: %w", request.ServiceID, model.ErrNotFound)
			}
			if err := e.DeactivateService(ctx, device, service, request.Date); err != nil {
				return model.StatusFail, err
			}
			return model.StatusSuccess, nil
		}
		return model.StatusFail, fmt.Errorf("запрос %d: не указана услуга или тариф", request.ID)

	case model.RequestStatus:
		// Чистый запрос состояния (например, проверка баланса)
		return model.StatusSuccess, nil
	}
	return model.StatusFail, fmt.Errorf("тип запроса %q: %w", request.Type, model.ErrUnsupported)
}
