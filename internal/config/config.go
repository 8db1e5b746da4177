package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Validator ValidatorConfig `yaml:"validator"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version"`
	Env     string `yaml:"env" validate:"omitempty,oneof=local development staging production"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host               string        `yaml:"host" validate:"required"`
	Port               int           `yaml:"port" validate:"required,gt=0"`
	User               string        `yaml:"user" validate:"required"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name" validate:"required"`
	Charset            string        `yaml:"charset"`
	Loc                string        `yaml:"loc"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	DLQSuffix string `yaml:"dlq_suffix"`
}

type StorageConfig struct {
	Local           bool     `yaml:"local"`
	BrokerFiles     string   `yaml:"broker_files" validate:"required_if=Local true"`
	ErrorReportPath string   `yaml:"error_report_path" validate:"required_if=Local true"`
	S3              S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"aws_bucket"`
	Region    string `yaml:"aws_region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type QueueConfig struct {
	Backend      string `yaml:"backend" validate:"omitempty,oneof=sqs redis"`
	SQSQueueName string `yaml:"sqs_queue_name" validate:"required"`
	AWSRegion    string `yaml:"aws_region"`
	Endpoint     string `yaml:"endpoint"`

	// Dispatcher tuning, all in seconds.
	DefaultVisibilityTimeout int  `yaml:"default_visibility_timeout" validate:"gt=0"`
	LongPollSeconds          int  `yaml:"long_poll_seconds" validate:"gte=0,lte=20"`
	MonitorSleepTime         int  `yaml:"monitor_sleep_time" validate:"gt=0"`
	AllowRetries             bool `yaml:"allow_retries"`

	// Used by the redis backend, which has no native redrive policy.
	MaxReceiveCount int `yaml:"max_receive_count"`
}

type ValidatorConfig struct {
	BatchSize     int      `yaml:"batch_size" validate:"gte=0"`
	MaxRows       int64    `yaml:"max_rows" validate:"gte=0"`
	FABSFileTypes []string `yaml:"fabs_file_types"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, overrides from the environment, applies defaults and
// validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("BROKER_DB_HOST", &c.Database.Host)
	setString("BROKER_DB_USER", &c.Database.User)
	setString("BROKER_DB_PASSWORD", &c.Database.Password)
	setString("BROKER_DB_NAME", &c.Database.Name)
	setString("BROKER_REDIS_PASSWORD", &c.Redis.Password)
	setString("BROKER_AWS_ACCESS_KEY", &c.Storage.S3.AccessKey)
	setString("BROKER_AWS_SECRET_KEY", &c.Storage.S3.SecretKey)
	setString("BROKER_SQS_QUEUE_NAME", &c.Queue.SQSQueueName)

	if v, ok := os.LookupEnv("BROKER_DB_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v, ok := os.LookupEnv("BROKER_LOCAL"); ok {
		if local, err := strconv.ParseBool(v); err == nil {
			c.Storage.Local = local
		}
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "data-act-broker"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.Loc == "" {
		c.Database.Loc = "UTC"
	}
	if c.Redis.DLQSuffix == "" {
		c.Redis.DLQSuffix = ":dlq"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "sqs"
	}
	if c.Queue.AWSRegion == "" {
		c.Queue.AWSRegion = c.Storage.S3.Region
	}
	if c.Queue.DefaultVisibilityTimeout == 0 {
		c.Queue.DefaultVisibilityTimeout = 60
	}
	if c.Queue.LongPollSeconds == 0 {
		c.Queue.LongPollSeconds = 10
	}
	if c.Queue.MonitorSleepTime == 0 {
		c.Queue.MonitorSleepTime = 5
	}
	if c.Queue.MaxReceiveCount == 0 {
		c.Queue.MaxReceiveCount = 3
	}
	if c.Validator.BatchSize == 0 {
		c.Validator.BatchSize = 500
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9102
	}
}

// IsFABSFileType reports whether the file type is validated in FABS mode.
func (c *Config) IsFABSFileType(fileType string) bool {
	for _, ft := range c.Validator.FABSFileTypes {
		if ft == fileType {
			return true
		}
	}
	return false
}

// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.Charset, c.Database.Loc)
}

// MigrateURL is the golang-migrate form of the DSN.
func (c *Config) MigrateURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?multiStatements=true",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
