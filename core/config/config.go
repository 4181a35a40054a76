package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const (
	QueueDriverLocal = "local"
	QueueDriverAMQP  = "amqp"
)

// Config is read from the worker yaml file (see config/worker.example.yaml)
type Config struct {
	Production bool   `yaml:"production"`
	DbPath     string `yaml:"db_path"`
	// How often badger's value log is garbage collected
	DbVacuumInterval time.Duration `yaml:"db_vacuum_interval"`

	Networks map[string]*NetworkConfig `yaml:"networks"`

	Queue    QueueConfig    `yaml:"queue"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Listener ListenerConfig `yaml:"listener"`
	Cache    CacheConfig    `yaml:"cache"`
	Script   ScriptConfig   `yaml:"script"`
	Backup   BackupConfig   `yaml:"backup"`

	JobTimeout time.Duration `yaml:"job_timeout"`

	StatsListenAddr   string `yaml:"stats_listen_addr"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`

	Logger sdklogging.Logger `yaml:"-"`
}

type QueueConfig struct {
	Driver   string `yaml:"driver"`
	AmqpURL  string `yaml:"amqp_url"`
	Prefetch int    `yaml:"prefetch"`
	Workers  int    `yaml:"workers"`

	// Bound on operator/transient redrive from the dead letter queue
	MaxRetries int `yaml:"max_retries"`

	ExecutionQueue string `yaml:"execution_queue"`
	RetryQueue     string `yaml:"retry_queue"`
	DeadLetter     string `yaml:"dead_letter_queue"`
	DelayedQueue   string `yaml:"delayed_queue"`
	CronExchange   string `yaml:"cron_exchange"`

	// How often the local broker promotes expired delayed messages
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

type WalletConfig struct {
	SessionURL     string        `yaml:"session_url"`
	SigningSecret  string        `yaml:"signing_secret"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Value in wei above which a transaction needs explicit approval
	ApprovalThresholdWei string `yaml:"approval_threshold_wei"`
	// Per token thresholds in the token's smallest unit, keyed by contract
	// address. A token transfer to a contract not listed here always needs
	// approval.
	TokenApprovalThresholds map[string]string `yaml:"token_approval_thresholds"`

	ConfirmationPollInterval time.Duration `yaml:"confirmation_poll_interval"`
}

type ListenerConfig struct {
	BatchSize        uint64 `yaml:"batch_size"`
	NativeScanWindow uint64 `yaml:"native_scan_window"`
	LookbackBlocks   uint64 `yaml:"lookback_blocks"`
	MaxBlockRetries  int    `yaml:"max_block_retries"`
}

type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

type BackupConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	// snapshots kept on disk, 0 keeps all
	Keep int `yaml:"keep"`
}

type ScriptConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// NewConfig parses the yaml file at configFilePath, applies defaults and
// validates the result.
func NewConfig(configFilePath string) (*Config, error) {
	raw, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", configFilePath, err)
	}

	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("invalid yaml config: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logLevel := sdklogging.Development
	if c.Production {
		logLevel = sdklogging.Production
	}
	logger, err := sdklogging.NewZapLogger(logLevel)
	if err != nil {
		return nil, err
	}
	c.Logger = logger

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.DbPath == "" {
		c.DbPath = "/tmp/chainflow/db"
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.StatsListenAddr == "" {
		c.StatsListenAddr = ":8090"
	}
	if c.MetricsListenAddr == "" {
		c.MetricsListenAddr = ":9090"
	}

	q := &c.Queue
	if q.Driver == "" {
		q.Driver = QueueDriverLocal
	}
	if q.Prefetch <= 0 {
		q.Prefetch = 1
	}
	if q.Workers <= 0 {
		q.Workers = 2
	}
	if q.MaxRetries <= 0 {
		q.MaxRetries = 3
	}
	if q.ExecutionQueue == "" {
		q.ExecutionQueue = "workflow.execution"
	}
	if q.RetryQueue == "" {
		q.RetryQueue = "workflow.execution.retry"
	}
	if q.DeadLetter == "" {
		q.DeadLetter = "workflow.execution.dlq"
	}
	if q.DelayedQueue == "" {
		q.DelayedQueue = "workflow.execution.delayed"
	}
	if q.CronExchange == "" {
		q.CronExchange = "workflow.cron"
	}
	if q.ExpiryInterval <= 0 {
		q.ExpiryInterval = time.Second
	}

	w := &c.Wallet
	if w.RequestTimeout == 0 {
		w.RequestTimeout = 15 * time.Second
	}
	if w.ApprovalThresholdWei == "" {
		// 1 native unit
		w.ApprovalThresholdWei = "1000000000000000000"
	}
	if w.ConfirmationPollInterval == 0 {
		w.ConfirmationPollInterval = 3 * time.Second
	}

	l := &c.Listener
	if l.BatchSize == 0 {
		l.BatchSize = 1000
	}
	if l.NativeScanWindow == 0 {
		l.NativeScanWindow = 10
	}
	if l.LookbackBlocks == 0 {
		l.LookbackBlocks = 100
	}
	if l.MaxBlockRetries <= 0 {
		l.MaxBlockRetries = 3
	}

	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 30 * time.Second
	}
	if c.Script.Timeout == 0 {
		c.Script.Timeout = 5 * time.Second
	}

	if c.DbVacuumInterval == 0 {
		c.DbVacuumInterval = time.Hour
	}

	if c.Backup.Dir == "" {
		c.Backup.Dir = "/tmp/chainflow/backup"
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 6 * time.Hour
	}
}

func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("config: at least one network is required")
	}

	for name, n := range c.Networks {
		if err := n.validate(name); err != nil {
			return err
		}
	}

	if c.Queue.Driver != QueueDriverLocal && c.Queue.Driver != QueueDriverAMQP {
		return fmt.Errorf("config: unknown queue driver %q", c.Queue.Driver)
	}
	if c.Queue.Driver == QueueDriverAMQP && c.Queue.AmqpURL == "" {
		return fmt.Errorf("config: queue.amqp_url is required for the amqp driver")
	}

	threshold, err := decimal.NewFromString(c.Wallet.ApprovalThresholdWei)
	if err != nil {
		return fmt.Errorf("config: invalid wallet.approval_threshold_wei: %w", err)
	}
	if threshold.IsNegative() || !threshold.IsInteger() {
		return fmt.Errorf("config: wallet.approval_threshold_wei must be a non-negative integer")
	}
	for token, v := range c.Wallet.TokenApprovalThresholds {
		if !common.IsHexAddress(token) {
			return fmt.Errorf("config: wallet.token_approval_thresholds key %q is not an address", token)
		}
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() || !d.IsInteger() {
			return fmt.Errorf("config: wallet.token_approval_thresholds[%s] must be a non-negative integer", token)
		}
	}

	return nil
}

// ApprovalThreshold returns the approval threshold in wei
func (c *Config) ApprovalThreshold() decimal.Decimal {
	return decimal.RequireFromString(c.Wallet.ApprovalThresholdWei)
}

// TokenApprovalThresholds returns the per token thresholds keyed by
// lowercase contract address
func (c *Config) TokenApprovalThresholds() map[string]*big.Int {
	out := make(map[string]*big.Int, len(c.Wallet.TokenApprovalThresholds))
	for token, v := range c.Wallet.TokenApprovalThresholds {
		out[strings.ToLower(common.HexToAddress(token).Hex())] = decimal.RequireFromString(v).BigInt()
	}
	return out
}
