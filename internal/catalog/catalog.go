// Package catalog — чтение справочника услуг, тарифов и стоимостей.
// Поиск двухшаговый: сначала в рамках оператора, затем без привязки к
// оператору (мягкий откат вместо ошибки — исторически так работает система).
package catalog

import (
	"context"
	"fmt"

	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store"
)

type Catalog struct {
	store store.Catalog
}

func New(st store.Catalog) *Catalog {
	return &Catalog{store: st}
}

// ServiceByName — услуга или тариф по имени для оператора operatorID
func (c *Catalog) ServiceByName(ctx context.Context, operatorID int64, kind model.ServiceKind, name string) (model.Service, error) {
	svc, ok, err := c.store.ServiceByName(ctx, operatorID, kind, name)
	if err != nil {
		return model.Service{}, err
	}
	if !ok && operatorID != 0 {
		// Регионального совпадения нет — ищем без оператора
		svc, ok, err = c.store.ServiceByName(ctx, 0, kind, name)
		if err != nil {
			return model.Service{}, err
		}
	}
	if !ok {
		return model.Service{}, fmt.Errorf("услуга %q (%s): %w", name, kind, model.ErrNotFound)
	}
	return svc, nil
}

// ServiceByCode — услуга или тариф по коду активации
func (c *Catalog) ServiceByCode(ctx context.Context, operatorID int64, kind model.ServiceKind, code string) (model.Service, error) {
	svc, ok, err := c.store.ServiceByCode(ctx, operatorID, kind, code)
	if err != nil {
		return model.Service{}, err
	}
	if !ok && operatorID != 0 {
		svc, ok, err = c.store.ServiceByCode(ctx, 0, kind, code)
		if err != nil {
			return model.Service{}, err
		}
	}
	if !ok {
		return model.Service{}, fmt.Errorf("услуга с кодом %q (%s): %w", code, kind, model.ErrNotFound)
	}
	return svc, nil
}

// CostFor — стоимость услуги от оператора к оператору.
// Если точной пары нет, берётся строка "до любого оператора"
func (c *Catalog) CostFor(ctx context.Context, operatorFromID, operatorToID, serviceID int64) (model.Cost, error) {
	if operatorToID != 0 {
		cost, ok, err := c.store.CostFor(ctx, operatorFromID, operatorToID, serviceID)
		if err != nil {
			return model.Cost{}, err
		}
		if ok {
			return cost, nil
		}
	}
	cost, ok, err := c.store.CostFor(ctx, operatorFromID, 0, serviceID)
	if err != nil {
		return model.Cost{}, err
	}
	if !ok {
		return model.Cost{}, fmt.Errorf("стоимость услуги %d от оператора %d: %w",
			serviceID, operatorFromID, model.ErrNotFound)
	}
	return cost, nil
}

// DeviceOperator — оператор устройства по его телефонному номеру
func (c *Catalog) DeviceOperator(ctx context.Context, phoneNumberID int64) (model.MobileOperator, error) {
	pn, ok, err := c.store.PhoneNumberByID(ctx, phoneNumberID)
	if err != nil {
		return model.MobileOperator{}, err
	}
	if !ok {
		return model.MobileOperator{}, fmt.Errorf("телефонный номер %d: %w", phoneNumberID, model.ErrNotFound)
	}
	op, ok, err := c.store.OperatorByID(ctx, pn.OperatorID)
	if err != nil {
		return model.MobileOperator{}, err
	}
	if !ok {
		return model.MobileOperator{}, fmt.Errorf("оператор %d: %w", pn.OperatorID, model.ErrNotFound)
	}
	return op, nil
}
