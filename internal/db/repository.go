// Package db — хранилище поверх PostgreSQL. Та же дисциплина, что и в
// остальном коде: сырой SQL без ORM, одна операция — один запрос.
// Денежные колонки numeric читаются как текст и конвертируются в decimal
package db

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*Store)(nil)

// Connect - подключение к БД по строке DSN
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к БД: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("БД недоступна: %w", err)
	}
	log.Println("Подключение к PostgreSQL успешно!")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Pool - низкоуровневый доступ (миграции, проверки живости)
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Справочники

const serviceColumns = `
	id, operator_id, name, kind, activation_code, deactivation_code,
	activation_cost::text, period_days, in_archive, packet_type, packet_amount`

func (s *Store) scanService(ctx context.Context, row pgx.Row) (model.Service, error) {
	var svc model.Service
	var cost string
	var packetType *string
	var packetAmount int

	err := row.Scan(
		&svc.ID,
		&svc.OperatorID,
		&svc.Name,
		&svc.Kind,
		&svc.ActivationCode,
		&svc.DeactivationCode,
		&cost,
		&svc.PeriodDays,
		&svc.InArchive,
		&packetType,
		&packetAmount,
	)
	if err != nil {
		return model.Service{}, err
	}
	if svc.ActivationCost, err = decimal.NewFromString(cost); err != nil {
		return model.Service{}, fmt.Errorf("стоимость активации услуги %d: %w", svc.ID, err)
	}
	if packetType != nil {
		svc.Packet = &model.Packet{Type: model.PacketType(*packetType), Amount: packetAmount}
	}
	if svc.Kind == model.KindTariff {
		if svc.AttachedIDs, err = s.attachedServiceIDs(ctx, svc.ID); err != nil {
			return model.Service{}, err
		}
	}
	return svc, nil
}

func (s *Store) attachedServiceIDs(ctx context.Context, tariffID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id FROM tariff_services
		WHERE tariff_id = $1
		ORDER BY service_id
	`, tariffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) serviceBy(ctx context.Context, where string, args ...any) (model.Service, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE `+where, args...)
	svc, err := s.scanService(ctx, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, false, nil
	}
	if err != nil {
		return model.Service{}, false, err
	}
	return svc, true, nil
}

func (s *Store) ServiceByID(ctx context.Context, id int64) (model.Service, bool, error) {
	return s.serviceBy(ctx, `id = $1`, id)
}

func (s *Store) ServiceByName(ctx context.Context, operatorID int64, kind model.ServiceKind, name string) (model.Service, bool, error) {
	return s.serviceBy(ctx, `
		name = $1 AND kind = $2 AND NOT in_archive
		AND ($3 = 0 OR operator_id = $3)
		ORDER BY id LIMIT 1
	`, name, kind, operatorID)
}

func (s *Store) ServiceByCode(ctx context.Context, operatorID int64, kind model.ServiceKind, code string) (model.Service, bool, error) {
	return s.serviceBy(ctx, `
		activation_code = $1 AND kind = $2 AND NOT in_archive
		AND ($3 = 0 OR operator_id = $3)
		ORDER BY id LIMIT 1
	`, code, kind, operatorID)
}

func (s *Store) ListServices(ctx context.Context, kind model.ServiceKind) ([]model.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE kind = $1 AND NOT in_archive
		ORDER BY id
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Список услуг короткий, подгрузка состава тарифов после закрытия rows
	var ids []int64
	var services []model.Service
	for rows.Next() {
		var svc model.Service
		var cost string
		var packetType *string
		var packetAmount int
		err := rows.Scan(
			&svc.ID, &svc.OperatorID, &svc.Name, &svc.Kind,
			&svc.ActivationCode, &svc.DeactivationCode,
			&cost, &svc.PeriodDays, &svc.InArchive, &packetType, &packetAmount,
		)
		if err != nil {
			return nil, err
		}
		if svc.ActivationCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("стоимость активации услуги %d: %w", svc.ID, err)
		}
		if packetType != nil {
			svc.Packet = &model.Packet{Type: model.PacketType(*packetType), Amount: packetAmount}
		}
		services = append(services, svc)
		ids = append(ids, svc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if kind == model.KindTariff {
		for i, id := range ids {
			if services[i].AttachedIDs, err = s.attachedServiceIDs(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	return services, nil
}

func (s *Store) CostFor(ctx context.Context, operatorFromID, operatorToID, serviceID int64) (model.Cost, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, service_id, operator_from_id, operator_to_id,
		       use_cost::text, subscription_cost::text
		FROM costs
		WHERE service_id = $1 AND operator_from_id = $2 AND operator_to_id = $3
		ORDER BY id LIMIT 1
	`, serviceID, operatorFromID, operatorToID)

	var c model.Cost
	var useCost, subCost string
	err := row.Scan(&c.ID, &c.ServiceID, &c.OperatorFromID, &c.OperatorToID, &useCost, &subCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Cost{}, false, nil
	}
	if err != nil {
		return model.Cost{}, false, err
	}
	if c.UseCost, err = decimal.NewFromString(useCost); err != nil {
		return model.Cost{}, false, fmt.Errorf("стоимость %d: %w", c.ID, err)
	}
	if c.SubscriptionCost, err = decimal.NewFromString(subCost); err != nil {
		return model.Cost{}, false, fmt.Errorf("стоимость %d: %w", c.ID, err)
	}
	return c, true, nil
}

func (s *Store) PhoneNumberByID(ctx context.Context, id int64) (model.PhoneNumber, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, area_code, number, operator_id
		FROM phone_numbers WHERE id = $1
	`, id)

	var pn model.PhoneNumber
	err := row.Scan(&pn.ID, &pn.AreaCode, &pn.Number, &pn.OperatorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PhoneNumber{}, false, nil
	}
	if err != nil {
		return model.PhoneNumber{}, false, err
	}
	return pn, true, nil
}

func (s *Store) OperatorByID(ctx context.Context, id int64) (model.MobileOperator, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, country, region
		FROM mobile_operators WHERE id = $1
	`, id)

	var op model.MobileOperator
	err := row.Scan(&op.ID, &op.Name, &op.Country, &op.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MobileOperator{}, false, nil
	}
	if err != nil {
		return model.MobileOperator{}, false, err
	}
	return op, true, nil
}

// Устройства и счета

func (s *Store) deviceBy(ctx context.Context, where string, arg any) (model.Device, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, imei, type, tariff_id, phone_number_id, date_registered
		FROM devices WHERE `+where, arg)

	var d model.Device
	err := row.Scan(&d.ID, &d.AccountID, &d.IMEI, &d.Type, &d.TariffID, &d.PhoneNumberID, &d.DateRegistered)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Device{}, false, nil
	}
	if err != nil {
		return model.Device{}, false, err
	}
	return d, true, nil
}

func (s *Store) DeviceByID(ctx context.Context, id int64) (model.Device, bool, error) {
	return s.deviceBy(ctx, `id = $1`, id)
}

func (s *Store) DeviceByIMEI(ctx context.Context, imei string) (model.Device, bool, error) {
	return s.deviceBy(ctx, `imei = $1`, imei)
}

func (s *Store) AccountByID(ctx context.Context, id int64) (model.Account, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, agreement_id, calc_method, credit_limit::text, trust_category
		FROM accounts WHERE id = $1
	`, id)

	var a model.Account
	var limit string
	err := row.Scan(&a.ID, &a.AgreementID, &a.CalcMethod, &limit, &a.TrustCategory)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, false, nil
	}
	if err != nil {
		return model.Account{}, false, err
	}
	if a.CreditLimit, err = decimal.NewFromString(limit); err != nil {
		return model.Account{}, false, fmt.Errorf("кредитный лимит счёта %d: %w", a.ID, err)
	}
	return a, true, nil
}

func (s *Store) SetDeviceTariff(ctx context.Context, deviceID, tariffID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE devices SET tariff_id = $1 WHERE id = $2
	`, tariffID, deviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("устройство %d: %w", deviceID, model.ErrNotFound)
	}
	return nil
}

// Балансы

func (s *Store) ActiveBalances(ctx context.Context, accountID int64, balanceType model.BalanceType) ([]model.Balance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, type, amount::text, date_created, due_date
		FROM balances
		WHERE account_id = $1 AND type = $2 AND due_date IS NULL
		ORDER BY id
	`, accountID, balanceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []model.Balance
	for rows.Next() {
		var b model.Balance
		var amount string
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Type, &amount, &b.DateCreated, &b.DueDate); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("баланс %d: %w", b.ID, err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *Store) UpdateBalanceAmount(ctx context.Context, balanceID int64, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE balances SET amount = $1 WHERE id = $2
	`, amount.String(), balanceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("баланс %d: %w", balanceID, model.ErrNotFound)
	}
	return nil
}

// Счета на оплату

func (s *Store) AddBill(ctx context.Context, bill *model.Bill) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO bills (service_log_id, date_created, debt, paid)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, bill.ServiceLogID, bill.DateCreated, bill.Debt.String(), bill.Paid.String()).Scan(&bill.ID)
}

func (s *Store) UpdateBill(ctx context.Context, bill model.Bill) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bills SET debt = $1, paid = $2 WHERE id = $3
	`, bill.Debt.String(), bill.Paid.String(), bill.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("счёт на оплату %d: %w", bill.ID, model.ErrNotFound)
	}
	return nil
}

func (s *Store) UnpaidBills(ctx context.Context, accountID int64) ([]model.Bill, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.service_log_id, b.date_created, b.debt::text, b.paid::text
		FROM bills b
		JOIN service_logs sl ON sl.id = b.service_log_id
		JOIN device_services ds ON ds.id = sl.device_service_id
		JOIN devices d ON d.id = ds.device_id
		WHERE d.account_id = $1 AND b.debt > 0
		ORDER BY b.id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []model.Bill
	for rows.Next() {
		var b model.Bill
		var debt, paid string
		if err := rows.Scan(&b.ID, &b.ServiceLogID, &b.DateCreated, &debt, &paid); err != nil {
			return nil, err
		}
		if b.Debt, err = decimal.NewFromString(debt); err != nil {
			return nil, fmt.Errorf("счёт на оплату %d: %w", b.ID, err)
		}
		if b.Paid, err = decimal.NewFromString(paid); err != nil {
			return nil, fmt.Errorf("счёт на оплату %d: %w", b.ID, err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// Подключения услуг

func (s *Store) AddDeviceService(ctx context.Context, ds *model.DeviceService) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO device_services
		(device_id, service_id, is_activated, is_blocked, date_from, date_to, packet_left)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, ds.DeviceID, ds.ServiceID, ds.IsActivated, ds.IsBlocked, ds.DateFrom, ds.DateTo, ds.PacketLeft).Scan(&ds.ID)
}

func (s *Store) UpdateDeviceService(ctx context.Context, ds model.DeviceService) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE device_services
		SET is_activated = $1,
		    is_blocked = $2,
		    date_to = $3,
		    packet_left = $4
		WHERE id = $5
	`, ds.IsActivated, ds.IsBlocked, ds.DateTo, ds.PacketLeft, ds.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("подключение %d: %w", ds.ID, model.ErrNotFound)
	}
	return nil
}

func scanDeviceServices(rows pgx.Rows) ([]model.DeviceService, error) {
	defer rows.Close()
	var res []model.DeviceService
	for rows.Next() {
		var ds model.DeviceService
		err := rows.Scan(&ds.ID, &ds.DeviceID, &ds.ServiceID, &ds.IsActivated,
			&ds.IsBlocked, &ds.DateFrom, &ds.DateTo, &ds.PacketLeft)
		if err != nil {
			return nil, err
		}
		res = append(res, ds)
	}
	return res, rows.Err()
}

func (s *Store) DeviceServiceByID(ctx context.Context, id int64) (model.DeviceService, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, device_id, service_id, is_activated, is_blocked, date_from, date_to, packet_left
		FROM device_services WHERE id = $1
	`, id)

	var ds model.DeviceService
	err := row.Scan(&ds.ID, &ds.DeviceID, &ds.ServiceID, &ds.IsActivated,
		&ds.IsBlocked, &ds.DateFrom, &ds.DateTo, &ds.PacketLeft)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DeviceService{}, false, nil
	}
	if err != nil {
		return model.DeviceService{}, false, err
	}
	return ds, true, nil
}

func (s *Store) ActiveDeviceServices(ctx context.Context, deviceID, serviceID int64) ([]model.DeviceService, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, service_id, is_activated, is_blocked, date_from, date_to, packet_left
		FROM device_services
		WHERE device_id = $1 AND is_activated
		  AND ($2 = 0 OR service_id = $2)
		ORDER BY id
	`, deviceID, serviceID)
	if err != nil {
		return nil, err
	}
	return scanDeviceServices(rows)
}

func (s *Store) PacketDeviceServices(ctx context.Context, deviceID int64, packetType model.PacketType) ([]model.DeviceService, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ds.id, ds.device_id, ds.service_id, ds.is_activated, ds.is_blocked,
		       ds.date_from, ds.date_to, ds.packet_left
		FROM device_services ds
		JOIN services s ON s.id = ds.service_id
		WHERE ds.device_id = $1 AND ds.is_activated AND s.packet_type = $2
		ORDER BY ds.id
	`, deviceID, packetType)
	if err != nil {
		return nil, err
	}
	return scanDeviceServices(rows)
}

// Журнал, платежи, запросы

func (s *Store) AddServiceLog(ctx context.Context, serviceLog *model.ServiceLog) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO service_logs
		(device_service_id, action, use_date, amount, is_free, recipient_phone_id, bill_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, serviceLog.DeviceServiceID, serviceLog.Action, serviceLog.UseDate, serviceLog.Amount,
		serviceLog.IsFree, serviceLog.RecipientPhoneID, serviceLog.BillID).Scan(&serviceLog.ID)
}

func (s *Store) UpdateServiceLog(ctx context.Context, serviceLog model.ServiceLog) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE service_logs
		SET amount = $1, is_free = $2, bill_id = $3
		WHERE id = $4
	`, serviceLog.Amount, serviceLog.IsFree, serviceLog.BillID, serviceLog.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("запись журнала %d: %w", serviceLog.ID, model.ErrNotFound)
	}
	return nil
}

func (s *Store) AddPayment(ctx context.Context, payment *model.Payment) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO payments (account_id, method, name, amount, date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, payment.AccountID, payment.Method, payment.Name, payment.Amount.String(), payment.Date).Scan(&payment.ID)
}

func (s *Store) AddRequest(ctx context.Context, request *model.Request) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO requests (device_id, service_id, tariff_id, type, date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, request.DeviceID, request.ServiceID, request.TariffID, request.Type, request.Date).Scan(&request.ID)
}

// Пользователи

// GetUserByUsername - получение пользователя из БД при авторизации
func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role FROM users WHERE username = $1
	`, username)

	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("пользователь %s: %w", username, model.ErrNotFound)
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// CreateUser - добавление пользователя в БД при регистрации
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, role string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
	`, username, passwordHash, role)
	return err
}
