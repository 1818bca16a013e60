package store

import (
	"context"

	"github.com/shopspring/decimal"

	"operator-billing-backend/internal/model"
)

// Catalog — неизменяемые справочные данные: услуги, тарифы, стоимости,
// операторы. operatorID = 0 означает поиск без привязки к оператору
type Catalog interface {
	ServiceByID(ctx context.Context, id int64) (model.Service, bool, error)
	ServiceByName(ctx context.Context, operatorID int64, kind model.ServiceKind, name string) (model.Service, bool, error)
	ServiceByCode(ctx context.Context, operatorID int64, kind model.ServiceKind, code string) (model.Service, bool, error)
	// CostFor ищет точную пару операторов; operatorToID = 0 — строка "до любого"
	CostFor(ctx context.Context, operatorFromID, operatorToID, serviceID int64) (model.Cost, bool, error)
	ListServices(ctx context.Context, kind model.ServiceKind) ([]model.Service, error)
	PhoneNumberByID(ctx context.Context, id int64) (model.PhoneNumber, bool, error)
	OperatorByID(ctx context.Context, id int64) (model.MobileOperator, bool, error)
}

// Repository — хранилище сущностей биллинга. Граница транзакции — одно
// действие: движок предполагает внешнюю сериализацию изменений по счёту
type Repository interface {
	Catalog

	DeviceByID(ctx context.Context, id int64) (model.Device, bool, error)
	DeviceByIMEI(ctx context.Context, imei string) (model.Device, bool, error)
	AccountByID(ctx context.Context, id int64) (model.Account, bool, error)
	SetDeviceTariff(ctx context.Context, deviceID, tariffID int64) error

	// ActiveBalances — балансы счёта заданного типа без даты закрытия.
	// Корректные данные содержат ровно один такой баланс
	ActiveBalances(ctx context.Context, accountID int64, balanceType model.BalanceType) ([]model.Balance, error)
	UpdateBalanceAmount(ctx context.Context, balanceID int64, amount decimal.Decimal) error

	AddBill(ctx context.Context, bill *model.Bill) error
	UpdateBill(ctx context.Context, bill model.Bill) error
	// UnpaidBills — счета с долгом в порядке создания
	UnpaidBills(ctx context.Context, accountID int64) ([]model.Bill, error)

	AddDeviceService(ctx context.Context, ds *model.DeviceService) error
	UpdateDeviceService(ctx context.Context, ds model.DeviceService) error
	DeviceServiceByID(ctx context.Context, id int64) (model.DeviceService, bool, error)
	// ActiveDeviceServices — действующие подключения услуги на устройстве.
	// serviceID = 0 — все подключения устройства
	ActiveDeviceServices(ctx context.Context, deviceID, serviceID int64) ([]model.DeviceService, error)
	// PacketDeviceServices — действующие подключения устройства, чья услуга
	// несёт пакет заданного типа
	PacketDeviceServices(ctx context.Context, deviceID int64, packetType model.PacketType) ([]model.DeviceService, error)

	AddServiceLog(ctx context.Context, log *model.ServiceLog) error
	UpdateServiceLog(ctx context.Context, log model.ServiceLog) error
	AddPayment(ctx context.Context, payment *model.Payment) error
	AddRequest(ctx context.Context, request *model.Request) error
}
