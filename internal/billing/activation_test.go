package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"operator-billing-backend/internal/model"
)

// addTariff — тариф с базовым набором: пакет минут и пакет интернета
func addTariff(f *fixture, name, code string, subscriptionFee string) (model.Service, model.Service, model.Service) {
	voicePack := f.st.AddService(model.Service{
		OperatorID: f.op.ID, Name: name + " voice", Kind: model.KindService,
		Packet: &model.Packet{Type: model.PacketVoice, Amount: 300},
	})
	internetPack := f.st.AddService(model.Service{
		OperatorID: f.op.ID, Name: name + " internet", Kind: model.KindService,
		Packet: &model.Packet{Type: model.PacketInternet, Amount: 5000},
	})
	tariff := f.st.AddService(model.Service{
		OperatorID: f.op.ID, Name: name, Kind: model.KindTariff,
		ActivationCode: code,
		ActivationCost: dec(subscriptionFee),
		AttachedIDs:    []int64{voicePack.ID, internetPack.ID},
	})
	return tariff, voicePack, internetPack
}

func TestConnectTariff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	tariff, voicePack, internetPack := addTariff(f, "Smart mini", "*100*1#", "50")

	status, err := f.engine.ConnectTariff(ctx, f.device.ID, tariff, false, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)

	device, ok, err := f.st.DeviceByID(ctx, f.device.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tariff.ID, device.TariffID)

	// Подключены тариф и обе услуги набора, пакеты заполнены
	active, err := f.st.ActiveDeviceServices(ctx, f.device.ID, 0)
	require.NoError(t, err)
	require.Len(t, active, 3)

	byService := map[int64]model.DeviceService{}
	for _, ds := range active {
		byService[ds.ServiceID] = ds
	}
	require.Equal(t, 300, byService[voicePack.ID].PacketLeft)
	require.Equal(t, 5000, byService[internetPack.ID].PacketLeft)

	// Абонентская плата списана один раз, с тарифа
	require.True(t, f.balanceAmount(t).Equal(dec("150")))
}

func TestConnectTariffAlreadyActive(t *testing.T) {
	// Повторное подключение того же тарифа — холостой ход без списаний
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	tariff, _, _ := addTariff(f, "Smart mini", "*100*1#", "50")

	status, err := f.engine.ConnectTariff(ctx, f.device.ID, tariff, false, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)

	status, err = f.engine.ConnectTariff(ctx, f.device.ID, tariff, false, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusAlreadyActive, status)

	active, err := f.st.ActiveDeviceServices(ctx, f.device.ID, 0)
	require.NoError(t, err)
	require.Len(t, active, 3)
	require.True(t, f.balanceAmount(t).Equal(dec("150")))
}

func TestConnectTariffSwitch(t *testing.T) {
	// Смена тарифа: старый набор отключается целиком, новый подключается
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "500", "0")
	oldTariff, oldVoice, _ := addTariff(f, "Smart mini", "*100*1#", "50")
	newTariff, newVoice, _ := addTariff(f, "Smart top", "*100*3#", "100")

	status, err := f.engine.ConnectTariff(ctx, f.device.ID, oldTariff, false, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)

	status, err = f.engine.ConnectTariff(ctx, f.device.ID, newTariff, false, testDate.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)

	device, ok, err := f.st.DeviceByID(ctx, f.device.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newTariff.ID, device.TariffID)

	// Из старого набора активных записей не осталось
	old, err := f.st.ActiveDeviceServices(ctx, f.device.ID, oldVoice.ID)
	require.NoError(t, err)
	require.Empty(t, old)

	fresh, err := f.st.ActiveDeviceServices(ctx, f.device.ID, newVoice.ID)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Nil(t, fresh[0].DateTo)

	require.True(t, f.balanceAmount(t).Equal(dec("350")))
}

func TestConnectTariffOutOfFunds(t *testing.T) {
	// Средств не хватает: отказ до каких-либо изменений
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "30", "0")
	tariff, _, _ := addTariff(f, "Smart mini", "*100*1#", "50")

	status, err := f.engine.ConnectTariff(ctx, f.device.ID, tariff, false, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusOutOfFunds, status)

	device, ok, err := f.st.DeviceByID(ctx, f.device.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, device.TariffID)

	active, err := f.st.ActiveDeviceServices(ctx, f.device.ID, 0)
	require.NoError(t, err)
	require.Empty(t, active)
	require.True(t, f.balanceAmount(t).Equal(dec("30")))
}

func TestConnectTariffRejectsService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	svc := f.st.AddService(model.Service{Name: "sms", Kind: model.KindService})

	status, err := f.engine.ConnectTariff(ctx, f.device.ID, svc, false, testDate)
	require.Error(t, err)
	require.Equal(t, model.StatusFail, status)
}

func TestDeactivateService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	svc := f.st.AddService(model.Service{Name: "sms", Kind: model.KindService})
	ds := f.connectService(t, svc)

	require.NoError(t, f.engine.DeactivateService(ctx, f.device, svc, testDate))

	got, ok, err := f.st.DeviceServiceByID(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, got.IsActivated)
	require.NotNil(t, got.DateTo)

	active, err := f.st.ActiveDeviceServices(ctx, f.device.ID, svc.ID)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestBlockAndUnlock(t *testing.T) {
	// Блокировка ортогональна активации: услуга остаётся подключённой
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	svc := f.st.AddService(model.Service{Name: "sms", Kind: model.KindService})
	ds := f.connectService(t, svc)

	require.NoError(t, f.engine.BlockService(ctx, f.device, svc, testDate))

	got, ok, err := f.st.DeviceServiceByID(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.IsBlocked)
	require.True(t, got.IsActivated)
	require.Nil(t, got.DateTo)

	require.NoError(t, f.engine.UnlockService(ctx, f.device, svc, testDate))

	got, ok, err = f.st.DeviceServiceByID(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, got.IsBlocked)
}

func TestHandleRequestActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	tariff, _, _ := addTariff(f, "Smart mini", "*100*1#", "50")

	request := model.Request{
		Type:     model.RequestActivation,
		DeviceID: f.device.ID,
		TariffID: tariff.ID,
		Date:     testDate,
	}
	status, err := f.engine.HandleRequest(ctx, &request)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.NotZero(t, request.ID, "запрос сохраняется")

	device, ok, err := f.st.DeviceByID(ctx, f.device.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tariff.ID, device.TariffID)
}

func TestHandleRequestDeactivateTariff(t *testing.T) {
	// Отключение тарифа по запросу: набор гаснет, тариф с устройства снимается
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")
	tariff, _, _ := addTariff(f, "Smart mini", "*100*1#", "50")

	status, err := f.engine.ConnectTariff(ctx, f.device.ID, tariff, false, testDate)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)

	request := model.Request{
		Type:     model.RequestDeactivation,
		DeviceID: f.device.ID,
		TariffID: tariff.ID,
		Date:     testDate.AddDate(0, 1, 0),
	}
	status, err = f.engine.HandleRequest(ctx, &request)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)

	device, ok, err := f.st.DeviceByID(ctx, f.device.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, device.TariffID)

	active, err := f.st.ActiveDeviceServices(ctx, f.device.ID, 0)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestHandleRequestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	request := model.Request{Type: model.RequestStatus, DeviceID: f.device.ID, Date: testDate}
	status, err := f.engine.HandleRequest(ctx, &request)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
}

func TestHandleRequestUnknownType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.BalanceAdvance, "200", "0")

	request := model.Request{Type: "transfer", DeviceID: f.device.ID, Date: testDate}
	status, err := f.engine.HandleRequest(ctx, &request)
	require.ErrorIs(t, err, model.ErrUnsupported)
	require.Equal(t, model.StatusFail, status)
}
