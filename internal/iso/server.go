// Package iso — приём платежей по ISO 8583 (TCP). Поле 2 — лицевой счёт,
// поле 4 — сумма в копейках, поле 61 — способ оплаты, поле 48 в ответе —
// статус зачисления
package iso

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/field"
	"github.com/shopspring/decimal"

	"operator-billing-backend/internal/billing"
	"operator-billing-backend/internal/metrics"
	"operator-billing-backend/internal/model"
)

func StartISO8583Server(ctx context.Context, port string, engine *billing.Engine) {
	if port == "" {
		port = "8583"
	}
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		log.Fatalf("Ошибка запуска ISO8583 сервера: %v", err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Printf("ISO8583 сервер слушает порт %s", port)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Ошибка соединения: %v", err)
			continue
		}
		go handleISOConnection(ctx, conn, engine)
	}
}

func sendISOResponse(conn net.Conn, accountID, amount, status string) {
	spec := buildSpec()
	resp := iso8583.NewMessage(spec)
	resp.MTI("0210")
	_ = resp.Field(2, accountID)
	_ = resp.Field(4, amount)
	_ = resp.Field(48, status)

	packed, err := resp.Pack()
	if err != nil {
		log.Printf("Ошибка упаковки ответа: %v", err)
		return
	}
	conn.Write(packed)
}

func handleISOConnection(ctx context.Context, conn net.Conn, engine *billing.Engine) {
	defer conn.Close()

	buffer := make([]byte, 1024)
	n, err := conn.Read(buffer)
	if err != nil {
		log.Printf("Ошибка чтения: %v", err)
		return
	}

	spec := buildSpec()
	msg := iso8583.NewMessage(spec)

	if err := msg.Unpack(buffer[:n]); err != nil {
		log.Printf("Ошибка распаковки ISO8583: %v", err)
		return
	}

	accountStr, _ := msg.GetField(2).String()
	amountStr, _ := msg.GetField(4).String()
	methodStr, _ := msg.GetField(61).String()

	metrics.RecordEvent("iso")

	accountID, err := strconv.ParseInt(accountStr, 10, 64)
	if err != nil {
		sendISOResponse(conn, accountStr, amountStr, "Неверный номер счёта")
		return
	}
	amountKopecks, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || amountKopecks <= 0 {
		sendISOResponse(conn, accountStr, amountStr, "Неверная сумма")
		return
	}
	amount := decimal.New(amountKopecks, -2)

	log.Printf("Платёж ISO: счёт=%d, сумма=%s, способ=%s", accountID, amount, methodStr)

	payment := model.Payment{
		Method: model.PaymentMethod(methodStr),
		Amount: amount,
		Date:   time.Now(),
	}

	start := time.Now()
	err = engine.HandlePayment(ctx, accountID, &payment)
	metrics.BillingHistogram.WithLabelValues("payment").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, model.ErrUnsupported):
		metrics.BillingCounter.WithLabelValues("payment", "unsupported").Inc()
		sendISOResponse(conn, accountStr, amountStr, "Способ оплаты не поддерживается")
	case errors.Is(err, model.ErrNotFound):
		metrics.BillingCounter.WithLabelValues("payment", "not_found").Inc()
		sendISOResponse(conn, accountStr, amountStr, "Счёт не найден")
	case err != nil:
		metrics.BillingCounter.WithLabelValues("payment", "fail").Inc()
		log.Printf("Ошибка зачисления платежа: %v", err)
		sendISOResponse(conn, accountStr, amountStr, "Ошибка обработки")
	default:
		metrics.BillingCounter.WithLabelValues("payment", "success").Inc()
		sendISOResponse(conn, accountStr, fmt.Sprintf("%012d", amountKopecks), string(model.StatusSuccess))
	}
}

func buildSpec() *iso8583.MessageSpec {
	return &iso8583.MessageSpec{
		Fields: map[int]field.Field{
			0:  field.NewString(&field.Spec{Length: 4, Description: "MTI"}),
			2:  field.NewString(&field.Spec{Length: 19, Description: "Account ID"}),
			4:  field.NewString(&field.Spec{Length: 12, Description: "Amount (копейки)"}),
			48: field.NewString(&field.Spec{Length: 100, Description: "Status"}),
			61: field.NewString(&field.Spec{Length: 20, Description: "Payment method"}),
		},
	}
}
