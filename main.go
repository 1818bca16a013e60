package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"operator-billing-backend/internal/auth"
	"operator-billing-backend/internal/billing"
	"operator-billing-backend/internal/config"
	"operator-billing-backend/internal/db"
	"operator-billing-backend/internal/iso"
	"operator-billing-backend/internal/kafka"
	"operator-billing-backend/internal/metrics"
	"operator-billing-backend/internal/model"
)

var (
	store  *db.Store
	engine *billing.Engine
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/example.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Конфигурация: %v", err)
	}
	auth.SetSecret(cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runMigrations(cfg.DSN())

	store, err = db.Connect(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer store.Close()

	engine = billing.New(store)
	metrics.Init()

	// Приём CDR и USSD-запросов из Kafka
	go kafka.StartUsageConsumer(ctx, cfg.Kafka.Broker, cfg.Kafka.UsageTopic, cfg.Kafka.UsageReplyTopic, store, engine)
	go kafka.StartRequestConsumer(ctx, cfg.Kafka.Broker, cfg.Kafka.RequestTopic, cfg.Kafka.RequestReplyTopic, store, engine)

	// Приём платежей по ISO 8583
	go iso.StartISO8583Server(ctx, cfg.ISOPort, engine)

	r := mux.NewRouter()

	r.HandleFunc("/api/login", LoginHandler).Methods("POST")
	r.Handle("/api/users", AuthMiddleware(AdminOnly(http.HandlerFunc(CreateUserHandler)))).Methods("POST")

	r.HandleFunc("/api/tariffs", GetTariffsHandler).Methods("GET")
	r.HandleFunc("/api/services", GetServicesHandler).Methods("GET")

	r.Handle("/api/devices/{id}/balance", AuthMiddleware(http.HandlerFunc(GetDeviceBalanceHandler))).Methods("GET")
	r.Handle("/api/devices/{id}/services", AuthMiddleware(http.HandlerFunc(GetDeviceServicesHandler))).Methods("GET")
	r.Handle("/api/accounts/{id}/bills", AuthMiddleware(http.HandlerFunc(GetUnpaidBillsHandler))).Methods("GET")

	r.Handle("/api/payments", AuthMiddleware(http.HandlerFunc(CreatePaymentHandler))).Methods("POST")
	r.Handle("/api/requests", AuthMiddleware(http.HandlerFunc(CreateRequestHandler))).Methods("POST")
	r.Handle("/api/usage", AuthMiddleware(AdminOnly(http.HandlerFunc(CreateUsageHandler)))).Methods("POST")

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/api/metrics/custom", GetCustomMetricsHandler).Methods("GET")

	handler := cors.Default().Handler(r)

	log.Printf("Сервер запущен на порту %s...", cfg.ServerPort)
	log.Fatal(http.ListenAndServe(":"+cfg.ServerPort, handler))
}

// runMigrations - применение goose-миграций при старте
func runMigrations(dsn string) {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		log.Fatalf("Миграции: подключение: %v", err)
	}
	defer sqlDB.Close()

	if err := goose.Up(sqlDB, "migrations"); err != nil {
		log.Fatalf("Миграции: %v", err)
	}
}

// Авторизация

type contextKey string

const userKey contextKey = "username"
const claimsKey contextKey = "claims"

// LoginHandler - проверка логина и пароля, генерация токена
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	user, err := store.GetUserByUsername(r.Context(), creds.Username)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(creds.Username, 0, user.Role)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"token": token,
	})
}

// CreateUserHandler - регистрация пользователя API (только администратор)
func CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if input.Username == "" || input.Password == "" {
		http.Error(w, "Обязательные поля отсутствуют", http.StatusBadRequest)
		return
	}
	role := input.Role
	if role == "" {
		role = "user"
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Ошибка хэширования пароля", http.StatusInternalServerError)
		return
	}

	if err := store.CreateUser(r.Context(), input.Username, string(hashedPassword), role); err != nil {
		http.Error(w, "Ошибка создания пользователя: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "Пользователь создан",
	})
}

// AuthMiddleware - авторизация пользователя
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateJWT(authHeader[7:])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, claims.Username)
		ctx = context.WithValue(ctx, claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly - авторизация админа
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, ok := r.Context().Value(userKey).(string)
		if !ok || username == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := store.GetUserByUsername(r.Context(), username)
		if err != nil || user.Role != "admin" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Каталог

// GetTariffsHandler - список тарифов каталога
func GetTariffsHandler(w http.ResponseWriter, r *http.Request) {
	listServices(w, r, model.KindTariff)
}

// GetServicesHandler - список услуг каталога
func GetServicesHandler(w http.ResponseWriter, r *http.Request) {
	listServices(w, r, model.KindService)
}

func listServices(w http.ResponseWriter, r *http.Request, kind model.ServiceKind) {
	start := time.Now()
	endpoint := "/api/" + string(kind) + "s"
	defer func() {
		metrics.RequestCounter.WithLabelValues(endpoint).Inc()
		metrics.RequestHistogram.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	services, err := store.ListServices(r.Context(), kind)
	if err != nil {
		http.Error(w, "Ошибка при получении каталога: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(services)
}

// Устройства и счета

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// GetDeviceBalanceHandler - активный баланс счёта устройства
func GetDeviceBalanceHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathID(r)
	if !ok {
		http.Error(w, "Неверный ID устройства", http.StatusBadRequest)
		return
	}

	balance, err := engine.DeviceBalance(r.Context(), deviceID)
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "Устройство не найдено", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Ошибка при получении баланса: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"balanceId": balance.ID,
		"type":      balance.Type,
		"amount":    balance.Amount,
	})
}

// GetDeviceServicesHandler - действующие подключения устройства
func GetDeviceServicesHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathID(r)
	if !ok {
		http.Error(w, "Неверный ID устройства", http.StatusBadRequest)
		return
	}

	services, err := store.ActiveDeviceServices(r.Context(), deviceID, 0)
	if err != nil {
		http.Error(w, "Ошибка при получении подключений: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(services)
}

// GetUnpaidBillsHandler - счета с долгом по лицевому счёту
func GetUnpaidBillsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(r)
	if !ok {
		http.Error(w, "Неверный ID счёта", http.StatusBadRequest)
		return
	}

	bills, err := store.UnpaidBills(r.Context(), accountID)
	if err != nil {
		http.Error(w, "Ошибка при получении счетов: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(bills)
}

// Операции биллинга

// CreatePaymentHandler - зачисление платежа на лицевой счёт
func CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestCounter.WithLabelValues("/api/payments").Inc()
		metrics.RequestHistogram.WithLabelValues("/api/payments").Observe(time.Since(start).Seconds())
	}()

	var input struct {
		AccountID int64           `json:"accountId"`
		Method    string          `json:"method"`
		Name      string          `json:"name"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if input.AccountID == 0 || !input.Amount.IsPositive() {
		http.Error(w, "Обязательные поля отсутствуют", http.StatusBadRequest)
		return
	}

	metrics.RecordEvent("api")

	payment := model.Payment{
		Method: model.PaymentMethod(input.Method),
		Name:   input.Name,
		Amount: input.Amount,
		Date:   time.Now(),
	}
	err := engine.HandlePayment(r.Context(), input.AccountID, &payment)
	switch {
	case errors.Is(err, model.ErrUnsupported):
		metrics.BillingCounter.WithLabelValues("payment", "unsupported").Inc()
		http.Error(w, "Способ оплаты не поддерживается", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, model.ErrNotFound):
		metrics.BillingCounter.WithLabelValues("payment", "not_found").Inc()
		http.Error(w, "Счёт не найден", http.StatusNotFound)
		return
	case err != nil:
		metrics.BillingCounter.WithLabelValues("payment", "fail").Inc()
		http.Error(w, "Ошибка зачисления платежа: "+err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.BillingCounter.WithLabelValues("payment", "success").Inc()
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":   "Платёж зачислен",
		"paymentId": payment.ID,
	})
}

// CreateRequestHandler - USSD-запрос на подключение или отключение
func CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestCounter.WithLabelValues("/api/requests").Inc()
		metrics.RequestHistogram.WithLabelValues("/api/requests").Observe(time.Since(start).Seconds())
	}()

	var input struct {
		DeviceID  int64  `json:"deviceId"`
		Type      string `json:"type"`
		ServiceID int64  `json:"serviceId,omitempty"`
		TariffID  int64  `json:"tariffId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if input.DeviceID == 0 || input.Type == "" {
		http.Error(w, "Обязательные поля отсутствуют", http.StatusBadRequest)
		return
	}

	metrics.RecordEvent("api")

	request := model.Request{
		DeviceID:  input.DeviceID,
		ServiceID: input.ServiceID,
		TariffID:  input.TariffID,
		Type:      model.RequestType(input.Type),
		Date:      time.Now(),
	}
	status, err := engine.HandleRequest(r.Context(), &request)
	metrics.BillingCounter.WithLabelValues("request", string(status)).Inc()
	if errors.Is(err, model.ErrUnsupported) {
		http.Error(w, "Тип запроса не поддерживается", http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, "Ошибка обработки запроса: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requestId": request.ID,
		"status":    status,
	})
}

// CreateUsageHandler - ручная регистрация события использования
// (отладка и досоздание потерянных CDR)
func CreateUsageHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		DeviceID         int64  `json:"deviceId"`
		Service          string `json:"service"`
		Amount           int    `json:"amount"`
		RecipientPhoneID int64  `json:"recipientPhoneId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if input.DeviceID == 0 || input.Service == "" || input.Amount <= 0 {
		http.Error(w, "Обязательные поля отсутствуют", http.StatusBadRequest)
		return
	}

	metrics.RecordEvent("api")

	status, err := engine.UseService(r.Context(), input.DeviceID, input.Service, input.Amount, input.RecipientPhoneID, time.Now())
	metrics.BillingCounter.WithLabelValues("usage", string(status)).Inc()
	if err != nil {
		http.Error(w, "Ошибка тарификации: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
	})
}

// Метрики

// GetCustomMetricsHandler - события за минуту, час, день по источникам
func GetCustomMetricsHandler(w http.ResponseWriter, r *http.Request) {
	result := map[string]int{
		"events_last_minute": metrics.CountSince("", 1*time.Minute),
		"events_last_hour":   metrics.CountSince("", 1*time.Hour),
		"events_last_day":    metrics.CountSince("", 24*time.Hour),
		"api_last_day":       metrics.CountSince("api", 24*time.Hour),
		"kafka_last_day":     metrics.CountSince("kafka", 24*time.Hour),
		"iso_last_day":       metrics.CountSince("iso", 24*time.Hour),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
