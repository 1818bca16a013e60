package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServiceKind — вид записи каталога: обычная услуга или тариф
type ServiceKind string

const (
	KindService ServiceKind = "service"
	KindTariff  ServiceKind = "tariff"
)

// PacketType — тип пакета (предоплаченного объёма)
type PacketType string

const (
	PacketVoice    PacketType = "voice"
	PacketSMS      PacketType = "sms"
	PacketMMS      PacketType = "mms"
	PacketInternet PacketType = "internet"
)

// BalanceType — тип баланса: авансовый или кредитный
type BalanceType string

const (
	BalanceAdvance BalanceType = "advance"
	BalanceCredit  BalanceType = "credit"
)

// ActionType — тип события в журнале услуг
type ActionType string

const (
	ActionActivation   ActionType = "activation"
	ActionUsage        ActionType = "usage"
	ActionDeactivation ActionType = "deactivation"
	ActionBlocking     ActionType = "blocking"
	ActionUnlocking    ActionType = "unlocking"
)

// RequestType — тип USSD-запроса
type RequestType string

const (
	RequestActivation   RequestType = "activation"
	RequestDeactivation RequestType = "deactivation"
	RequestStatus       RequestType = "status"
)

// PaymentMethod — способ оплаты
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentThirdParty PaymentMethod = "third_party"
	PaymentCreditCard PaymentMethod = "credit_card"
)

// Packet — предоплаченный объём (минуты, штуки, мегабайты), привязанный к услуге
type Packet struct {
	Type   PacketType
	Amount int
}

// Service — запись каталога. Тариф представлен как услуга с Kind = tariff
// и списком привязанных услуг (вместо наследования)
type Service struct {
	ID               int64
	OperatorID       int64
	Name             string
	Kind             ServiceKind
	ActivationCode   string
	DeactivationCode string
	ActivationCost   decimal.Decimal
	PeriodDays       int // 0 — бессрочная
	InArchive        bool
	Packet           *Packet
	AttachedIDs      []int64 // только для тарифа: услуги, подключаемые вместе с ним
}

// IsTariff — является ли запись каталога тарифом
func (s Service) IsTariff() bool {
	return s.Kind == KindTariff
}

// Cost — стоимость услуги между операторами.
// OperatorToID = 0 означает "до любого оператора"
type Cost struct {
	ID               int64
	ServiceID        int64
	OperatorFromID   int64
	OperatorToID     int64
	UseCost          decimal.Decimal
	SubscriptionCost decimal.Decimal
}

// MobileOperator — мобильный оператор
type MobileOperator struct {
	ID      int64
	Name    string
	Country string
	Region  string
}

// PhoneNumber — телефонный номер, принадлежащий оператору
type PhoneNumber struct {
	ID         int64
	AreaCode   string
	Number     string
	OperatorID int64
}

// Customer — клиент (физическое или юридическое лицо)
type Customer struct {
	ID     int64
	Type   string // "individual" | "organization"
	Status string
	Rank   int
}

// Agreement — подписанный договор клиента
type Agreement struct {
	ID           int64
	CustomerID   int64
	SignDate     time.Time
	IncomeRating int
}

// Account — лицевой счёт договора
type Account struct {
	ID            int64
	AgreementID   int64
	CalcMethod    BalanceType // advance | credit
	CreditLimit   decimal.Decimal
	TrustCategory int
}

// Device — устройство, привязанное к счёту.
// TariffID = 0 означает, что тариф ещё не подключён
type Device struct {
	ID             int64
	AccountID      int64
	IMEI           string
	Type           string
	TariffID       int64
	PhoneNumberID  int64
	DateRegistered time.Time
}

// Location — местоположение устройства за период (периоды не пересекаются)
type Location struct {
	ID       int64
	DeviceID int64
	Country  string
	Region   string
	Place    string
	DateFrom time.Time
	DateTo   *time.Time
}

// DeviceService — факт подключения услуги (или тарифа) на устройство.
// Записи не удаляются: при отключении проставляется DateTo
type DeviceService struct {
	ID          int64
	DeviceID    int64
	ServiceID   int64
	IsActivated bool
	IsBlocked   bool
	DateFrom    time.Time
	DateTo      *time.Time
	PacketLeft  int
}

// ServiceLog — одно событие по подключённой услуге
type ServiceLog struct {
	ID               int64
	DeviceServiceID  int64
	Action           ActionType
	UseDate          time.Time
	Amount           int
	IsFree           bool
	RecipientPhoneID int64
	BillID           int64
}

// Balance — баланс счёта. Активным считается баланс без DueDate
type Balance struct {
	ID          int64
	AccountID   int64
	Type        BalanceType
	Amount      decimal.Decimal
	DateCreated time.Time
	DueDate     *time.Time
}

// Bill — счёт на оплату одного события. Создаётся с Debt = сумма долга,
// при погашении Debt обнуляется, Paid накапливает оплаченное
type Bill struct {
	ID           int64
	ServiceLogID int64
	DateCreated  time.Time
	Debt         decimal.Decimal
	Paid         decimal.Decimal
}

// Payment — входящий платёж на счёт
type Payment struct {
	ID        int64
	AccountID int64
	Method    PaymentMethod
	Name      string
	Amount    decimal.Decimal
	Date      time.Time
}

// Request — USSD-запрос устройства. Заполнено либо ServiceID, либо TariffID
type Request struct {
	ID        int64
	DeviceID  int64
	ServiceID int64
	TariffID  int64
	Type      RequestType
	Date      time.Time
}

// User — пользователь API
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Role         string
}
