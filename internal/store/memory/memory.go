// Package memory — хранилище в памяти. Используется в тестах и как
// транзакционное хранилище симуляции: все мутации сериализуются мьютексом,
// поэтому одно действие биллинга выполняется как одна логическая транзакция.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	nextID int64

	operators    map[int64]model.MobileOperator
	phoneNumbers map[int64]model.PhoneNumber
	services     map[int64]model.Service
	costs        []model.Cost

	accounts       map[int64]model.Account
	devices        map[int64]model.Device
	balances       map[int64]model.Balance
	bills          map[int64]model.Bill
	billOrder      []int64
	deviceServices map[int64]model.DeviceService
	dsOrder        []int64
	serviceLogs    map[int64]model.ServiceLog
	payments       map[int64]model.Payment
	requests       map[int64]model.Request
}

func New() *Store {
	return &Store{
		operators:      map[int64]model.MobileOperator{},
		phoneNumbers:   map[int64]model.PhoneNumber{},
		services:       map[int64]model.Service{},
		accounts:       map[int64]model.Account{},
		devices:        map[int64]model.Device{},
		balances:       map[int64]model.Balance{},
		bills:          map[int64]model.Bill{},
		deviceServices: map[int64]model.DeviceService{},
		serviceLogs:    map[int64]model.ServiceLog{},
		payments:       map[int64]model.Payment{},
		requests:       map[int64]model.Request{},
	}
}

func (s *Store) genID() int64 {
	s.nextID++
	return s.nextID
}

// Наполнение справочников и сущностей (каталог неизменяем после загрузки)

func (s *Store) AddOperator(op model.MobileOperator) model.MobileOperator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.ID == 0 {
		op.ID = s.genID()
	}
	s.operators[op.ID] = op
	return op
}

func (s *Store) AddPhoneNumber(pn model.PhoneNumber) model.PhoneNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pn.ID == 0 {
		pn.ID = s.genID()
	}
	s.phoneNumbers[pn.ID] = pn
	return pn
}

func (s *Store) AddService(svc model.Service) model.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == 0 {
		svc.ID = s.genID()
	}
	s.services[svc.ID] = svc
	return svc
}

func (s *Store) AddCost(c model.Cost) model.Cost {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.genID()
	}
	s.costs = append(s.costs, c)
	return c
}

func (s *Store) AddAccount(a model.Account) model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.genID()
	}
	s.accounts[a.ID] = a
	return a
}

func (s *Store) AddDevice(d model.Device) model.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = s.genID()
	}
	s.devices[d.ID] = d
	return d
}

func (s *Store) AddBalance(b model.Balance) model.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.genID()
	}
	s.balances[b.ID] = b
	return b
}

// Catalog

func (s *Store) ServiceByID(_ context.Context, id int64) (model.Service, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	return svc, ok, nil
}

func (s *Store) ServiceByName(_ context.Context, operatorID int64, kind model.ServiceKind, name string) (model.Service, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findService(func(svc model.Service) bool {
		return svc.Name == name && svc.Kind == kind &&
			(operatorID == 0 || svc.OperatorID == operatorID)
	})
}

func (s *Store) ServiceByCode(_ context.Context, operatorID int64, kind model.ServiceKind, code string) (model.Service, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findService(func(svc model.Service) bool {
		return svc.ActivationCode == code && svc.Kind == kind &&
			(operatorID == 0 || svc.OperatorID == operatorID)
	})
}

func (s *Store) findService(match func(model.Service) bool) (model.Service, bool, error) {
	ids := make([]int64, 0, len(s.services))
	for id := range s.services {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		svc := s.services[id]
		if !svc.InArchive && match(svc) {
			return svc, true, nil
		}
	}
	return model.Service{}, false, nil
}

func (s *Store) CostFor(_ context.Context, operatorFromID, operatorToID, serviceID int64) (model.Cost, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.costs {
		if c.ServiceID == serviceID && c.OperatorFromID == operatorFromID && c.OperatorToID == operatorToID {
			return c, true, nil
		}
	}
	return model.Cost{}, false, nil
}

func (s *Store) ListServices(_ context.Context, kind model.ServiceKind) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Service
	for _, svc := range s.services {
		if svc.Kind == kind && !svc.InArchive {
			res = append(res, svc)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *Store) PhoneNumberByID(_ context.Context, id int64) (model.PhoneNumber, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pn, ok := s.phoneNumbers[id]
	return pn, ok, nil
}

func (s *Store) OperatorByID(_ context.Context, id int64) (model.MobileOperator, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	return op, ok, nil
}

// Сущности биллинга

func (s *Store) DeviceByID(_ context.Context, id int64) (model.Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d, ok, nil
}

func (s *Store) DeviceByIMEI(_ context.Context, imei string) (model.Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.IMEI == imei {
			return d, true, nil
		}
	}
	return model.Device{}, false, nil
}

func (s *Store) AccountByID(_ context.Context, id int64) (model.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	return a, ok, nil
}

func (s *Store) SetDeviceTariff(_ context.Context, deviceID, tariffID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return model.ErrNotFound
	}
	d.TariffID = tariffID
	s.devices[deviceID] = d
	return nil
}

func (s *Store) ActiveBalances(_ context.Context, accountID int64, balanceType model.BalanceType) ([]model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Balance
	for _, b := range s.balances {
		if b.AccountID == accountID && b.Type == balanceType && b.DueDate == nil {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *Store) UpdateBalanceAmount(_ context.Context, balanceID int64, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[balanceID]
	if !ok {
		return model.ErrNotFound
	}
	b.Amount = amount
	s.balances[balanceID] = b
	return nil
}

func (s *Store) AddBill(_ context.Context, bill *model.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bill.ID == 0 {
		bill.ID = s.genID()
	}
	s.bills[bill.ID] = *bill
	s.billOrder = append(s.billOrder, bill.ID)
	return nil
}

func (s *Store) UpdateBill(_ context.Context, bill model.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[bill.ID]; !ok {
		return model.ErrNotFound
	}
	s.bills[bill.ID] = bill
	return nil
}

func (s *Store) UnpaidBills(_ context.Context, accountID int64) ([]model.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Bill
	for _, id := range s.billOrder {
		b := s.bills[id]
		if !b.Debt.IsPositive() {
			continue
		}
		log, ok := s.serviceLogs[b.ServiceLogID]
		if !ok {
			continue
		}
		ds, ok := s.deviceServices[log.DeviceServiceID]
		if !ok {
			continue
		}
		dev, ok := s.devices[ds.DeviceID]
		if !ok || dev.AccountID != accountID {
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

func (s *Store) AddDeviceService(_ context.Context, ds *model.DeviceService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds.ID == 0 {
		ds.ID = s.genID()
	}
	s.deviceServices[ds.ID] = *ds
	s.dsOrder = append(s.dsOrder, ds.ID)
	return nil
}

func (s *Store) UpdateDeviceService(_ context.Context, ds model.DeviceService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deviceServices[ds.ID]; !ok {
		return model.ErrNotFound
	}
	s.deviceServices[ds.ID] = ds
	return nil
}

func (s *Store) DeviceServiceByID(_ context.Context, id int64) (model.DeviceService, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.deviceServices[id]
	return ds, ok, nil
}

func (s *Store) ActiveDeviceServices(_ context.Context, deviceID, serviceID int64) ([]model.DeviceService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.DeviceService
	for _, id := range s.dsOrder {
		ds := s.deviceServices[id]
		if ds.DeviceID == deviceID && ds.IsActivated &&
			(serviceID == 0 || ds.ServiceID == serviceID) {
			res = append(res, ds)
		}
	}
	return res, nil
}

func (s *Store) PacketDeviceServices(_ context.Context, deviceID int64, packetType model.PacketType) ([]model.DeviceService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.DeviceService
	for _, id := range s.dsOrder {
		ds := s.deviceServices[id]
		if ds.DeviceID != deviceID || !ds.IsActivated {
			continue
		}
		svc, ok := s.services[ds.ServiceID]
		if !ok || svc.Packet == nil || svc.Packet.Type != packetType {
			continue
		}
		res = append(res, ds)
	}
	return res, nil
}

func (s *Store) AddServiceLog(_ context.Context, log *model.ServiceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == 0 {
		log.ID = s.genID()
	}
	s.serviceLogs[log.ID] = *log
	return nil
}

func (s *Store) UpdateServiceLog(_ context.Context, log model.ServiceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.serviceLogs[log.ID]; !ok {
		return model.ErrNotFound
	}
	s.serviceLogs[log.ID] = log
	return nil
}

func (s *Store) AddPayment(_ context.Context, payment *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID == 0 {
		payment.ID = s.genID()
	}
	s.payments[payment.ID] = *payment
	return nil
}

func (s *Store) AddRequest(_ context.Context, request *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request.ID == 0 {
		request.ID = s.genID()
	}
	s.requests[request.ID] = *request
	return nil
}

// BalanceByID — для проверок в тестах
func (s *Store) BalanceByID(id int64) (model.Balance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[id]
	return b, ok
}

// BillByID — для проверок в тестах
func (s *Store) BillByID(id int64) (model.Bill, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	return b, ok
}
