package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 默认存储桶名称
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
	Topics  []string `yaml:"topics"`  // 启动时需要确保存在的主题
}

// DatabaseConfigs 包含所有外部存储的连接配置。
type DatabaseConfigs struct {
	Redis   RedisConfig `yaml:"redis"`   // Redis 配置，用于任务事件的 pub/sub
	MinIO   MinIOConfig `yaml:"minio"`   // MinIO 对象存储配置，用于导出
	MongoDB MongoConfig `yaml:"mongodb"` // MongoDB 配置，用于导出
	Kafka   KafkaConfig `yaml:"kafka"`   // Kafka 配置，用于任务事件流
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ServerConfig 定义了 HTTP 控制面的配置。
type ServerConfig struct {
	Address         string        `yaml:"address"`         // 监听地址
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"` // 优雅关闭的等待时间
	DefaultPageSize int           `yaml:"defaultPageSize"` // 任务列表默认返回条数
	MaxPageSize     int           `yaml:"maxPageSize"`     // 任务列表最大返回条数
}

// TimeoutsConfig 定义了各个阶段的超时预算。
type TimeoutsConfig struct {
	Pipeline   time.Duration `yaml:"pipeline"`   // 单个任务整体超时
	Extract    time.Duration `yaml:"extract"`    // 文档/网页提取超时
	Demux      time.Duration `yaml:"demux"`      // 媒体分离（ffmpeg）超时
	Transcribe time.Duration `yaml:"transcribe"` // 语音转写超时
	Enhance    time.Duration `yaml:"enhance"`    // 视觉增强超时
	Analysis   time.Duration `yaml:"analysis"`   // AI 分析单次调用超时
	Export     time.Duration `yaml:"export"`     // 导出超时
}

// EnhancementConfig 定义了视觉增强阶段的开关。
type EnhancementConfig struct {
	Enabled         bool `yaml:"enabled"`         // 是否启用视觉增强
	StyleIntentOnly bool `yaml:"styleIntentOnly"` // 仅在 intent=style 时执行
}

// PipelineConfig 定义了编排核心的资源边界。
type PipelineConfig struct {
	MaxConcurrentPipelines int               `yaml:"maxConcurrentPipelines"` // 并发管线数 (准入闸门大小)
	MaxFileSize            int64             `yaml:"maxFileSize"`            // 单文件及批量累计大小上限 (字节)
	MaxTasks               int               `yaml:"maxTasks"`               // 任务注册表容量
	MaxBatchFiles          int               `yaml:"maxBatchFiles"`          // 单次批量提交的文件数上限
	CleanupInterval        time.Duration     `yaml:"cleanupInterval"`        // 清理任务的执行间隔
	Retention              time.Duration     `yaml:"retention"`              // 终态任务的保留时长
	PreviewLength          int               `yaml:"previewLength"`          // 对外视图中文本的预览长度
	MaxAnalysisInput       int               `yaml:"maxAnalysisInput"`       // 送入 LLM 的最大字符数
	UploadDir              string            `yaml:"uploadDir"`              // 上传文件的保存目录
	WorkDir                string            `yaml:"workDir"`                // 中间文件目录 (音轨等)
	LocalAllowGlobs        []string          `yaml:"localAllowGlobs"`        // 允许直接处理的本地路径模式
	Enhancement            EnhancementConfig `yaml:"enhancement"`            // 视觉增强配置
	Timeouts               TimeoutsConfig    `yaml:"timeouts"`               // 各阶段超时
}

// RetryConfig 定义了通用重试策略的参数。
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"` // 每个目标的最大尝试次数
	BaseDelay   time.Duration `yaml:"baseDelay"`   // 首次重试前的等待
	MaxDelay    time.Duration `yaml:"maxDelay"`    // 单次等待上限
	Multiplier  float64       `yaml:"multiplier"`  // 退避倍数
}

// EndpointConfig 定义了一个 HTTP 协作服务的地址。
type EndpointConfig struct {
	URL    string `yaml:"url"`    // 服务地址，为空表示未配置
	APIKey string `yaml:"apiKey"` // 访问令牌
	Model  string `yaml:"model"`  // 服务端模型名称 (可选)
}

// WebFetchConfig 定义了网页抓取的配置。
type WebFetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`   // 抓取超时
	UserAgent string        `yaml:"userAgent"` // 请求使用的 UA
}

// CollaboratorsConfig 定义了提取与增强阶段依赖的外部协作服务。
type CollaboratorsConfig struct {
	FFmpegPath string         `yaml:"ffmpegPath"` // ffmpeg 可执行文件路径
	ASR        EndpointConfig `yaml:"asr"`        // 语音识别服务
	OCR        EndpointConfig `yaml:"ocr"`        // 文字识别服务
	Vision     EndpointConfig `yaml:"vision"`     // 视觉分析服务
	WebFetch   WebFetchConfig `yaml:"webFetch"`   // 网页抓取
	Retry      RetryConfig    `yaml:"retry"`      // 提取协作方自身的重试预算
}

// ProviderConfig 定义了回退链中的一个 LLM 提供商。
type ProviderConfig struct {
	Name    string        `yaml:"name"`    // 提供商名称，用于日志和诊断
	Type    string        `yaml:"type"`    // 类型: "ollama", "openai", "gemini", "huggingface"
	Model   string        `yaml:"model"`   // 模型名称
	BaseURL string        `yaml:"baseURL"` // 服务地址 (OpenAI 兼容服务如 DeepSeek、Qwen)
	APIKey  string        `yaml:"apiKey"`  // API 密钥，建议通过 ${ENV} 引用
	Timeout time.Duration `yaml:"timeout"` // 单次调用超时
}

// LLMConfig 定义了 AI 分析阶段的提供商回退链。
type LLMConfig struct {
	Providers   []ProviderConfig `yaml:"providers"`   // 按顺序尝试的提供商
	Retry       RetryConfig      `yaml:"retry"`       // 单个提供商内部的重试
	Temperature float32          `yaml:"temperature"` // 采样温度
}

// DriveConfig 定义了 Google Drive 导出的配置。
type DriveConfig struct {
	CredentialsFile string `yaml:"credentialsFile"` // 服务账号凭证文件
	RootFolderName  string `yaml:"rootFolderName"`  // 根文件夹名称
	RootFolderID    string `yaml:"rootFolderID"`    // 根文件夹 ID，优先于名称
}

// ObjectExportConfig 定义了 MinIO 导出的配置。
type ObjectExportConfig struct {
	Prefix    string `yaml:"prefix"`    // 对象名前缀
	PublicURL string `yaml:"publicURL"` // 生成访问链接使用的外部地址
}

// DocumentExportConfig 定义了 MongoDB 导出的配置。
type DocumentExportConfig struct {
	Collection string `yaml:"collection"` // 集合名称
}

// ExportConfig 定义了导出阶段的配置。
type ExportConfig struct {
	Provider         string               `yaml:"provider"`         // 导出目标: "drive", "minio", "mongo", "none"
	Retry            RetryConfig          `yaml:"retry"`            // 上传重试
	Drive            DriveConfig          `yaml:"drive"`            // Google Drive 配置
	MinIO            ObjectExportConfig   `yaml:"minio"`            // MinIO 配置
	Mongo            DocumentExportConfig `yaml:"mongo"`            // MongoDB 配置
	UnidocLicenseKey string               `yaml:"unidocLicenseKey"` // Word 导出使用的 unioffice 授权
}

// EventSinkConfig 定义了一个外部事件出口。
type EventSinkConfig struct {
	Enabled bool   `yaml:"enabled"` // 是否启用
	Topic   string `yaml:"topic"`   // Kafka 主题或 Redis 频道
}

// EventsConfig 定义了任务事件的分发配置。
type EventsConfig struct {
	BufferSize int             `yaml:"bufferSize"` // 异步分发缓冲区大小
	Kafka      EventSinkConfig `yaml:"kafka"`      // Kafka 事件流
	Redis      EventSinkConfig `yaml:"redis"`      // Redis pub/sub
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App           AppInfo             `yaml:"app"`           // 应用程序信息
	Logger        LoggerConfig        `yaml:"logger"`        // 日志记录器配置
	Server        ServerConfig        `yaml:"server"`        // HTTP 服务配置
	Pipeline      PipelineConfig      `yaml:"pipeline"`      // 编排核心配置
	Collaborators CollaboratorsConfig `yaml:"collaborators"` // 提取/增强协作方
	LLM           LLMConfig           `yaml:"llm"`           // LLM 配置部分
	Export        ExportConfig        `yaml:"export"`        // 导出配置
	Events        EventsConfig        `yaml:"events"`        // 事件分发配置
	Databases     DatabaseConfigs     `yaml:"databases"`     // 外部存储配置
	Middleware    MiddlewareConfig    `yaml:"middleware"`    // 中间件配置
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。控制面按客户端 IP 各自维护一个令牌桶。
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置，用于保护对外部协作服务的 HTTP 调用。
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failureThreshold"`
	SuccessThreshold uint32        `yaml:"successThreshold"`
	Timeout          time.Duration `yaml:"timeout"` // 例如: "30s"
}

// LoadDotEnv 加载 .env 文件中的环境变量，文件不存在时静默跳过。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载环境变量文件 '%s' 失败: %w", p, err)
		}
	}
	return nil
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
// 文件中的 ${VAR} 引用会先替换为环境变量的值，然后填充默认值并校验。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取、解析或校验失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	return Parse(yamlFile)
}

// Parse 解析 YAML 内容，展开环境变量，填充默认值并校验。
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
