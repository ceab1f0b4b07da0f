package config

import (
	"strings"

	"VectorLink/pkg/xerr"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName   string `toml:"appName"`
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	EnableTLS bool   `toml:"enableTLS"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type MilvusConfig struct {
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	VectorDim      int    `toml:"vectorDim"`
	MetricType     string `toml:"metricType"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	IngestTopic     string   `toml:"ingestTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type EmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	BatchSize      int    `toml:"batchSize"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	RetryTimes     int    `toml:"retryTimes"`
}

type SplitterConfig struct {
	ChunkSize    int  `toml:"chunkSize"`
	ChunkOverlap int  `toml:"chunkOverlap"`
	Recursive    bool `toml:"recursive"`
}

type WorkerConfig struct {
	Count                    int `toml:"count"`
	RelayPollIntervalMs      int `toml:"relayPollIntervalMs"`
	RelayBatchSize           int `toml:"relayBatchSize"`
	VisibilityTimeoutSeconds int `toml:"visibilityTimeoutSeconds"`
	ShutdownGraceSeconds     int `toml:"shutdownGraceSeconds"`
}

type Config struct {
	MainConfig      `toml:"mainConfig"`
	LogConfig       `toml:"logConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	JwtConfig       `toml:"jwtConfig"`
	MilvusConfig    `toml:"milvusConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	EmbeddingConfig `toml:"embeddingConfig"`
	SplitterConfig  `toml:"splitterConfig"`
	WorkerConfig    `toml:"workerConfig"`
}

// Load 读取并校验配置，返回的 Config 在整个进程生命周期内只读
func Load(path string) (*Config, error) {
	conf := new(Config)
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, err
	}
	conf.applyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.MainConfig.Port <= 0 {
		c.MainConfig.Port = 8000
	}
	if strings.TrimSpace(c.MilvusConfig.CollectionName) == "" {
		c.MilvusConfig.CollectionName = "vl_document_vectors"
	}
	if c.MilvusConfig.VectorDim <= 0 {
		c.MilvusConfig.VectorDim = 768
	}
	if c.EmbeddingConfig.BatchSize <= 0 {
		c.EmbeddingConfig.BatchSize = 32
	}
	if c.EmbeddingConfig.RetryTimes <= 0 {
		c.EmbeddingConfig.RetryTimes = 3
	}
	if c.SplitterConfig.ChunkSize <= 0 {
		c.SplitterConfig.ChunkSize = 500
	}
	if c.WorkerConfig.Count <= 0 {
		c.WorkerConfig.Count = 2
	}
	if c.WorkerConfig.RelayPollIntervalMs <= 0 {
		c.WorkerConfig.RelayPollIntervalMs = 500
	}
	if c.WorkerConfig.RelayBatchSize <= 0 {
		c.WorkerConfig.RelayBatchSize = 100
	}
	if c.WorkerConfig.VisibilityTimeoutSeconds <= 0 {
		c.WorkerConfig.VisibilityTimeoutSeconds = 600
	}
	if c.WorkerConfig.ShutdownGraceSeconds <= 0 {
		c.WorkerConfig.ShutdownGraceSeconds = 30
	}
}

// Validate 在启动阶段做一次性校验，非法的切片参数直接失败，
// 而不是留到每篇文档摄取时才暴露
func (c *Config) Validate() error {
	if c.SplitterConfig.ChunkSize <= 0 {
		return xerr.Newf(xerr.BadRequest, "invalid config: chunkSize must be > 0, got %d", c.SplitterConfig.ChunkSize)
	}
	if c.SplitterConfig.ChunkOverlap < 0 {
		return xerr.Newf(xerr.BadRequest, "invalid config: chunkOverlap must be >= 0, got %d", c.SplitterConfig.ChunkOverlap)
	}
	if c.SplitterConfig.ChunkOverlap >= c.SplitterConfig.ChunkSize {
		return xerr.Newf(xerr.BadRequest, "invalid config: chunkOverlap %d must be < chunkSize %d", c.SplitterConfig.ChunkOverlap, c.SplitterConfig.ChunkSize)
	}
	if c.MilvusConfig.VectorDim <= 0 {
		return xerr.Newf(xerr.BadRequest, "invalid config: vectorDim must be > 0, got %d", c.MilvusConfig.VectorDim)
	}
	if c.EmbeddingConfig.Dimensions > 0 && c.EmbeddingConfig.Dimensions != c.MilvusConfig.VectorDim {
		return xerr.Newf(xerr.BadRequest, "invalid config: embedding dimensions %d != collection vectorDim %d", c.EmbeddingConfig.Dimensions, c.MilvusConfig.VectorDim)
	}
	if c.EmbeddingConfig.BatchSize <= 0 {
		return xerr.Newf(xerr.BadRequest, "invalid config: embedding batchSize must be > 0, got %d", c.EmbeddingConfig.BatchSize)
	}
	return nil
}
