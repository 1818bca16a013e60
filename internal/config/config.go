package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config — конфигурация приложения. Источники: yaml-файл и переменные
// окружения с префиксом APP_ (APP_DB_HOST и т.д.), окружение приоритетнее
type Config struct {
	ServerPort string `mapstructure:"server_port"`
	ISOPort    string `mapstructure:"iso_port"`
	JWTSecret  string `mapstructure:"jwt_secret"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"db"`

	Kafka struct {
		Broker            string `mapstructure:"broker"`
		UsageTopic        string `mapstructure:"usage_topic"`
		UsageReplyTopic   string `mapstructure:"usage_reply_topic"`
		RequestTopic      string `mapstructure:"request_topic"`
		RequestReplyTopic string `mapstructure:"request_reply_topic"`
	} `mapstructure:"kafka"`
}

// Load — чтение конфигурации из файла с наложением окружения
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server_port", "8080")
	v.SetDefault("iso_port", "8583")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("kafka.broker", "localhost:9092")
	v.SetDefault("kafka.usage_topic", "billing.usage")
	v.SetDefault("kafka.usage_reply_topic", "billing.usage.replies")
	v.SetDefault("kafka.request_topic", "billing.requests")
	v.SetDefault("kafka.request_reply_topic", "billing.requests.replies")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("разбор конфигурации: %w", err)
	}
	return cfg, nil
}

// DSN — строка подключения к PostgreSQL
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}
