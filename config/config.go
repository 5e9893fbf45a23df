/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5001"
	DEFAULT_MONITORING_PORT = "5004"
	DEFAULT_INVOICE_QUEUE   = "invoice:dispatch"
	DEFAULT_WEBHOOK_QUEUE   = "webhook:events"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"ARTISAN_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"ARTISAN_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ARTISAN_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"ARTISAN_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"ARTISAN_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"ARTISAN_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ARTISAN_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ARTISAN_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ARTISAN_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	InvoiceQueue   string `json:"invoice_queue" envconfig:"ARTISAN_QUEUE_INVOICE_QUEUE"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"ARTISAN_QUEUE_WEBHOOK_QUEUE"`
	Concurrency    int    `json:"concurrency" envconfig:"ARTISAN_QUEUE_CONCURRENCY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"ARTISAN_QUEUE_MONITORING_PORT"`
}

// InvoiceConfig holds the retry policy and maintenance settings of invoice dispatch.
// Durations are in seconds.
type InvoiceConfig struct {
	MaxRetries          int `json:"max_retries" envconfig:"ARTISAN_INVOICE_MAX_RETRIES"`
	BaseBackoffSec      int `json:"base_backoff_sec" envconfig:"ARTISAN_INVOICE_BASE_BACKOFF_SEC"`
	MaxBackoffSec       int `json:"max_backoff_sec" envconfig:"ARTISAN_INVOICE_MAX_BACKOFF_SEC"`
	MaxJitterSec        int `json:"max_jitter_sec" envconfig:"ARTISAN_INVOICE_MAX_JITTER_SEC"`
	RequeueLimit        int `json:"requeue_limit" envconfig:"ARTISAN_INVOICE_REQUEUE_LIMIT"`
	RecoveryIntervalSec int `json:"recovery_interval_sec" envconfig:"ARTISAN_INVOICE_RECOVERY_INTERVAL_SEC"`
	StuckThresholdSec   int `json:"stuck_threshold_sec" envconfig:"ARTISAN_INVOICE_STUCK_THRESHOLD_SEC"`
	TaskLockSec         int `json:"task_lock_sec" envconfig:"ARTISAN_INVOICE_TASK_LOCK_SEC"`
}

type SMTPConfig struct {
	Host     string `json:"host" envconfig:"ARTISAN_SMTP_HOST"`
	Port     int    `json:"port" envconfig:"ARTISAN_SMTP_PORT"`
	Username string `json:"username" envconfig:"ARTISAN_SMTP_USERNAME"`
	Password string `json:"password" envconfig:"ARTISAN_SMTP_PASSWORD"`
	StartTLS bool   `json:"start_tls" envconfig:"ARTISAN_SMTP_START_TLS"`
}

type SESConfig struct {
	Region string `json:"region" envconfig:"ARTISAN_SES_REGION"`
}

// MailConfig selects the outbound mail transport: "smtp", "ses" or "log".
type MailConfig struct {
	Transport  string     `json:"transport" envconfig:"ARTISAN_MAIL_TRANSPORT"`
	From       string     `json:"from" envconfig:"ARTISAN_MAIL_FROM"`
	TimeoutSec int        `json:"timeout_sec" envconfig:"ARTISAN_MAIL_TIMEOUT_SEC"`
	SMTP       SMTPConfig `json:"smtp"`
	SES        SESConfig  `json:"ses"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ARTISAN_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ARTISAN_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ARTISAN_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"ARTISAN_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"ARTISAN_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"ARTISAN_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Invoice      InvoiceConfig    `json:"invoice"`
	Mail         MailConfig       `json:"mail"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("artisan", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called artisan.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Artisan Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Mail.Transport = strings.ToLower(strings.TrimSpace(cnf.Mail.Transport))

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Queue.addDefaults()
	cnf.Invoice.addDefaults()

	if err := cnf.Mail.validateAndAddDefaults(); err != nil {
		return err
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) addDefaults() {
	if q.InvoiceQueue == "" {
		q.InvoiceQueue = DEFAULT_INVOICE_QUEUE
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 10
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
}

func (i *InvoiceConfig) addDefaults() {
	if i.MaxRetries <= 0 {
		i.MaxRetries = 3
	}
	if i.BaseBackoffSec <= 0 {
		i.BaseBackoffSec = 1
	}
	if i.MaxBackoffSec <= 0 {
		i.MaxBackoffSec = 600
	}
	if i.MaxJitterSec < 0 {
		i.MaxJitterSec = 0
	} else if i.MaxJitterSec == 0 {
		i.MaxJitterSec = 1
	}
	if i.RequeueLimit <= 0 {
		i.RequeueLimit = 100
	}
	if i.StuckThresholdSec <= 0 {
		i.StuckThresholdSec = 3600
	}
	if i.TaskLockSec <= 0 {
		i.TaskLockSec = 30
	}
}

func (m *MailConfig) validateAndAddDefaults() error {
	if m.Transport == "" {
		log.Println("Warning: Mail transport not specified. Emails will only be logged.")
		m.Transport = "log"
	}
	if m.TimeoutSec <= 0 {
		m.TimeoutSec = 5
	}
	switch m.Transport {
	case "log":
	case "smtp":
		if m.SMTP.Host == "" {
			return errors.New("smtp host is required when mail transport is smtp")
		}
		if m.SMTP.Port == 0 {
			m.SMTP.Port = 587
		}
		if m.From == "" {
			return errors.New("mail from address is required")
		}
	case "ses":
		if m.From == "" {
			return errors.New("mail from address is required")
		}
	default:
		return errors.New("unsupported mail transport: " + m.Transport)
	}
	return nil
}

// Timeout returns the mail timeout as a duration.
func (m MailConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
