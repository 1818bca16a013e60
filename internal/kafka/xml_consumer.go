package kafka

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"operator-billing-backend/internal/billing"
	"operator-billing-backend/internal/metrics"
	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store"
)

// USSDRequest - запрос устройства из XML-топика. Услуга или тариф
// задаются USSD-кодом, как набирает абонент
type USSDRequest struct {
	XMLName xml.Name  `xml:"request"`
	IMEI    string    `xml:"imei"`
	Type    string    `xml:"type"` // activation | deactivation | status
	Code    string    `xml:"code"`
	Date    time.Time `xml:"date"`
}

// USSDReply - результат обработки запроса
type USSDReply struct {
	XMLName xml.Name `xml:"response"`
	IMEI    string   `xml:"imei"`
	Status  string   `xml:"status"`
	Error   string   `xml:"error,omitempty"`
}

// StartRequestConsumer - чтение USSD-запросов из Kafka. Блокирует
// до отмены контекста, запускается отдельной горутиной
func StartRequestConsumer(ctx context.Context, broker, topic, replyTopic string, st store.Repository, engine *billing.Engine) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  "billing-request-group",
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   replyTopic,
	})
	defer writer.Close()

	log.Printf("[Kafka/requests] Старт подписки на топик: %s", topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Kafka/requests] Ошибка чтения сообщения: %v", err)
			continue
		}

		var req USSDRequest
		if err := xml.Unmarshal(msg.Value, &req); err != nil {
			log.Printf("[Kafka/requests] Ошибка парсинга XML: %v", err)
			continue
		}
		metrics.RecordEvent("kafka")

		reply := processRequest(ctx, req, st, engine)

		xmlReply, err := xml.Marshal(reply)
		if err != nil {
			log.Printf("[Kafka/requests] Ошибка сериализации XML: %v", err)
			continue
		}
		err = writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(fmt.Sprintf("device-%s", req.IMEI)),
			Value: xmlReply,
		})
		if err != nil {
			log.Printf("[Kafka/requests] Ошибка отправки в Kafka: %v", err)
		}
	}
}

func processRequest(ctx context.Context, req USSDRequest, st store.Repository, engine *billing.Engine) USSDReply {
	reply := USSDReply{IMEI: req.IMEI}

	start := time.Now()
	defer func() {
		metrics.BillingHistogram.WithLabelValues("request").Observe(time.Since(start).Seconds())
		metrics.BillingCounter.WithLabelValues("request", reply.Status).Inc()
	}()

	device, ok, err := st.DeviceByIMEI(ctx, req.IMEI)
	if err != nil {
		reply.Status = string(model.StatusFail)
		reply.Error = err.Error()
		return reply
	}
	if !ok {
		log.Printf("[Kafka/requests] Устройство с IMEI %s не найдено", req.IMEI)
		reply.Status = string(model.StatusFail)
		reply.Error = "устройство не найдено"
		return reply
	}

	request := model.Request{
		DeviceID: device.ID,
		Type:     model.RequestType(req.Type),
		Date:     req.Date,
	}
	if req.Code != "" {
		if err := resolveCode(ctx, device, req.Code, engine, &request); err != nil {
			log.Printf("[Kafka/requests] Код %s: %v", req.Code, err)
			reply.Status = string(model.StatusFail)
			reply.Error = err.Error()
			return reply
		}
	}

	status, err := engine.HandleRequest(ctx, &request)
	reply.Status = string(status)
	if err != nil {
		log.Printf("[Kafka/requests] Ошибка обработки запроса для %s: %v", req.IMEI, err)
		reply.Error = err.Error()
	}
	return reply
}

// resolveCode - поиск тарифа или услуги по USSD-коду в каталоге
// оператора устройства (сначала тарифы, затем услуги)
func resolveCode(ctx context.Context, device model.Device, code string, engine *billing.Engine, request *model.Request) error {
	operator, err := engine.Catalog().DeviceOperator(ctx, device.PhoneNumberID)
	if err != nil {
		return err
	}

	tariff, err := engine.Catalog().ServiceByCode(ctx, operator.ID, model.KindTariff, code)
	if err == nil {
		request.TariffID = tariff.ID
		return nil
	}
	service, err := engine.Catalog().ServiceByCode(ctx, operator.ID, model.KindService, code)
	if err != nil {
		return fmt.Errorf("USSD-код %q: %w", code, model.ErrNotFound)
	}
	request.ServiceID = service.ID
	return nil
}
