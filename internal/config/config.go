package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Efi      EfiConfig      `mapstructure:"efi"`
	Lzt      LztConfig      `mapstructure:"lzt"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentEvents  string `mapstructure:"payment_events"`
	PurchaseEvents string `mapstructure:"purchase_events"`
}

// EfiConfig Efí（EfiBank）PIX 网关配置
// 证书用 PEM 对（从 .p12 导出），生产/沙箱环境的凭证不可混用
type EfiConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	PixKey       string `mapstructure:"pix_key"`
	Sandbox      bool   `mapstructure:"sandbox"`
	WebhookURL   string `mapstructure:"webhook_url"`
}

// LztConfig LZT Market 市场配置
type LztConfig struct {
	Token          string `mapstructure:"token"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type DiscordConfig struct {
	Token    string   `mapstructure:"token"`
	GuildID  string   `mapstructure:"guild_id"`
	AdminIDs []string `mapstructure:"admin_ids"`
}

// WebhookConfig 入站 webhook 校验配置
// allowed_ips 是网关公布的出口IP；validate_ip=false 可整体关掉校验
type WebhookConfig struct {
	ValidateIP bool     `mapstructure:"validate_ip"`
	AllowedIPs []string `mapstructure:"allowed_ips"`
}

type BusinessConfig struct {
	MinFundingAmountCents int64 `mapstructure:"min_funding_amount_cents"` // 最小充值金额，默认 100（R$ 1,00）
	ExpirationHours       int   `mapstructure:"expiration_hours"`         // PIX 充值窗口，默认 1 小时
	SweepIntervalMinutes  int   `mapstructure:"sweep_interval_minutes"`   // 过期扫描间隔，默认 15 分钟
	MaxRetryCount         int   `mapstructure:"max_retry_count"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	if config.Business.MinFundingAmountCents <= 0 {
		config.Business.MinFundingAmountCents = 100
	}
	if config.Business.ExpirationHours <= 0 {
		config.Business.ExpirationHours = 1
	}
	if config.Business.SweepIntervalMinutes <= 0 {
		config.Business.SweepIntervalMinutes = 15
	}
	if config.Business.MaxRetryCount <= 0 {
		config.Business.MaxRetryCount = 3
	}

	GlobalConfig = config
	return config
}
