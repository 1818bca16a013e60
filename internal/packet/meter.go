// Package packet — учёт пакетов: перевод запрошенного объёма использования
// в "оплачено из пакетов" и "остаток к оплате".
package packet

import (
	"context"

	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store"
)

// TypeForService — соответствие имени услуги типу пакета.
// Услуги без пакетного учёта соответствия не имеют
func TypeForService(serviceName string) (model.PacketType, bool) {
	switch serviceName {
	case "outgoing_call":
		return model.PacketVoice, true
	case "sms":
		return model.PacketSMS, true
	case "mms":
		return model.PacketMMS, true
	case "internet":
		return model.PacketInternet, true
	}
	return "", false
}

// ChargeQueue — очередь списания: сначала пакеты из тарифного пула,
// затем докупленные отдельно. Пустые пакеты в очередь не попадают
func ChargeQueue(services []model.DeviceService, tariffAttached map[int64]bool) []model.DeviceService {
	var tariffPackets, otherPackets []model.DeviceService
	for _, ds := range services {
		if ds.PacketLeft <= 0 {
			continue
		}
		if tariffAttached[ds.ServiceID] {
			tariffPackets = append(tariffPackets, ds)
		} else {
			otherPackets = append(otherPackets, ds)
		}
	}
	return append(tariffPackets, otherPackets...)
}

type Meter struct {
	store store.Repository
}

func New(st store.Repository) *Meter {
	return &Meter{store: st}
}

// Charge списывает amount единиц из пакетов устройства.
// Возвращает неоплаченный остаток и признак наличия пакетов данного типа
// (учитываются и исчерпанные — это важно для интернета)
func (m *Meter) Charge(ctx context.Context, deviceID int64, packetType model.PacketType, amount int, tariffAttached map[int64]bool) (int, bool, error) {
	packets, err := m.store.PacketDeviceServices(ctx, deviceID, packetType)
	if err != nil {
		return amount, false, err
	}
	hasPackets := len(packets) > 0

	queue := ChargeQueue(packets, tariffAttached)
	unpaid := amount
	for _, ds := range queue {
		if unpaid <= 0 {
			break
		}
		charge := ds.PacketLeft
		if unpaid < charge {
			charge = unpaid
		}
		ds.PacketLeft -= charge
		unpaid -= charge
		if err := m.store.UpdateDeviceService(ctx, ds); err != nil {
			return unpaid, hasPackets, err
		}
	}
	return unpaid, hasPackets, nil
}
