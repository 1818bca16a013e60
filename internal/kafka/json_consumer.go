package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"operator-billing-backend/internal/billing"
	"operator-billing-backend/internal/metrics"
	"operator-billing-backend/internal/model"
	"operator-billing-backend/internal/store"
)

// UsageEvent - событие использования услуги (CDR) из JSON-топика.
// Либо amount задан явно, либо объём считается из длительности/трафика
type UsageEvent struct {
	IMEI             string    `json:"imei"`
	Service          string    `json:"service"`
	Amount           int       `json:"amount,omitempty"`
	Minutes          int       `json:"minutes,omitempty"`
	Seconds          int       `json:"seconds,omitempty"`
	Megabytes        int       `json:"megabytes,omitempty"`
	Kilobytes        int       `json:"kilobytes,omitempty"`
	RecipientPhoneID int64     `json:"recipientPhoneId,omitempty"`
	Date             time.Time `json:"date"`
}

// UsageReply - статус тарификации, уходит в топик ответов
type UsageReply struct {
	IMEI    string `json:"imei"`
	Service string `json:"service"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// units - тарифицируемый объём события
func (e UsageEvent) units() int {
	if e.Amount > 0 {
		return e.Amount
	}
	switch e.Service {
	case "outgoing_call":
		return billing.RoundCallDuration(e.Minutes, e.Seconds)
	case "internet":
		return billing.RoundInternetSession(e.Megabytes, e.Kilobytes)
	}
	return e.Amount
}

// StartUsageConsumer - чтение CDR из Kafka и тарификация. Блокирует
// до отмены контекста, запускается отдельной горутиной
func StartUsageConsumer(ctx context.Context, broker, topic, replyTopic string, st store.Repository, engine *billing.Engine) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: "billing-usage-group",
	})
	defer reader.Close()

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   replyTopic,
	})
	defer writer.Close()

	log.Printf("[Kafka/usage] Старт подписки на топик: %s", topic)

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Kafka/usage] Ошибка чтения сообщения: %v", err)
			continue
		}

		var event UsageEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Printf("[Kafka/usage] Ошибка парсинга JSON: %v", err)
			continue
		}
		metrics.RecordEvent("kafka")

		reply := processUsage(ctx, event, st, engine)

		replyBytes, _ := json.Marshal(reply)
		err = writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.IMEI),
			Value: replyBytes,
		})
		if err != nil {
			log.Printf("[Kafka/usage] Ошибка отправки ответа: %v", err)
		}
	}
}

func processUsage(ctx context.Context, event UsageEvent, st store.Repository, engine *billing.Engine) UsageReply {
	reply := UsageReply{IMEI: event.IMEI, Service: event.Service}

	start := time.Now()
	defer func() {
		metrics.BillingHistogram.WithLabelValues("usage").Observe(time.Since(start).Seconds())
		metrics.BillingCounter.WithLabelValues("usage", reply.Status).Inc()
	}()

	device, ok, err := st.DeviceByIMEI(ctx, event.IMEI)
	if err != nil {
		reply.Status = string(model.StatusFail)
		reply.Error = err.Error()
		return reply
	}
	if !ok {
		log.Printf("[Kafka/usage] Устройство с IMEI %s не найдено", event.IMEI)
		reply.Status = string(model.StatusFail)
		reply.Error = "устройство не найдено"
		return reply
	}

	units := event.units()
	if units == 0 {
		// Событие не тарифицируется (звонок до 3 секунд и т.п.)
		reply.Status = string(model.StatusSuccess)
		return reply
	}

	status, err := engine.UseService(ctx, device.ID, event.Service, units, event.RecipientPhoneID, event.Date)
	reply.Status = string(status)
	if err != nil {
		log.Printf("[Kafka/usage] Ошибка тарификации для %s: %v", event.IMEI, err)
		reply.Error = err.Error()
	}
	return reply
}
