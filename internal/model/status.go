package model

import "errors"

// ServiceStatus — бизнес-результат операции. Нехватка средств — это статус,
// а не ошибка: вызывающая сторона сама решает, что делать дальше
type ServiceStatus string

const (
	StatusSuccess       ServiceStatus = "success"
	StatusOutOfFunds    ServiceStatus = "out_of_funds"
	StatusAlreadyActive ServiceStatus = "already_active"
	StatusFail          ServiceStatus = "fail"
)

var (
	// ErrNotFound — запись каталога или сущность не найдена.
	// Это ошибка целостности данных, а не бизнес-ситуация
	ErrNotFound = errors.New("запись не найдена")

	// ErrUnsupported — операция сознательно не реализована
	// (оплата картой, роуминг)
	ErrUnsupported = errors.New("операция не поддерживается")

	// ErrBalanceIntegrity — у счёта не ровно один активный баланс нужного типа
	ErrBalanceIntegrity = errors.New("нарушена целостность балансов счёта")
)
