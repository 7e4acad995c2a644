// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Transcript    TranscriptConfig    `mapstructure:"transcript"`
	WebFetch      WebFetchConfig      `mapstructure:"web_fetch"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Search        SearchConfig        `mapstructure:"search"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port       string `mapstructure:"port"`
	Mode       string `mapstructure:"mode"`
	SeedDir    string `mapstructure:"seed_dir"`
	SeedUserID uint   `mapstructure:"seed_user_id"` // 初始化导入文件的归属用户
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 校验相关的配置。token 由外部认证平台签发，这里只做校验。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// WebFetchConfig 控制网页抓取的超时、大小上限和频率。
type WebFetchConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxBodyBytes      int64   `mapstructure:"max_body_bytes"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// AllowPrivateNetworks 允许抓取回环、内网和链路本地地址，仅用于本地调试
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// TranscriptConfig 存储视频字幕服务的配置。
type TranscriptConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	APIKey         string `mapstructure:"api_key"`
	Language       string `mapstructure:"language"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BatchSize      int    `mapstructure:"batch_size"`
	BatchDelayMS   int    `mapstructure:"batch_delay_ms"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// ChunkingConfig 控制入库时的文本切块策略。
type ChunkingConfig struct {
	Mode             string `mapstructure:"mode"` // fixed | paragraph
	ChunkSize        int    `mapstructure:"chunk_size"`
	Overlap          int    `mapstructure:"overlap"`
	MaxChunks        int    `mapstructure:"max_chunks"` // 0 表示不限制
	ParagraphMaxSize int    `mapstructure:"paragraph_max_size"`
}

// SearchConfig 存储相似度检索的默认参数。
type SearchConfig struct {
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	DefaultLimit     int     `mapstructure:"default_limit"`
	ChatContextLimit int     `mapstructure:"chat_context_limit"`
}

// PrivacyConfig 存储隐私请求（导出/删除）相关的配置。
type PrivacyConfig struct {
	ExportPrefix           string `mapstructure:"export_prefix"`
	ExportURLExpiryMinutes int    `mapstructure:"export_url_expiry_minutes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.seed_user_id", 1)
	v.SetDefault("kafka.group_id", "ragdesk-go-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("elasticsearch.index_name", "document_chunks")
	v.SetDefault("embedding.batch_size", 10)
	v.SetDefault("embedding.batch_delay_ms", 200)
	v.SetDefault("embedding.timeout_seconds", 60)
	v.SetDefault("transcript.timeout_seconds", 30)
	v.SetDefault("web_fetch.timeout_seconds", 20)
	v.SetDefault("web_fetch.max_body_bytes", 10<<20)
	v.SetDefault("web_fetch.requests_per_second", 2)
	v.SetDefault("web_fetch.burst", 4)
	v.SetDefault("chunking.mode", "fixed")
	v.SetDefault("chunking.chunk_size", 1000)
	v.SetDefault("chunking.overlap", 200)
	v.SetDefault("chunking.max_chunks", 0)
	v.SetDefault("chunking.paragraph_max_size", 1500)
	v.SetDefault("search.default_threshold", 0.7)
	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.chat_context_limit", 5)
	v.SetDefault("privacy.export_prefix", "exports")
	v.SetDefault("privacy.export_url_expiry_minutes", 60)
}

// Load 读取指定路径的 YAML 文件，环境变量（RAGDESK_ 前缀）可覆盖任意键。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RAGDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，失败时直接 panic（启动阶段没有可降级的路径）。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
