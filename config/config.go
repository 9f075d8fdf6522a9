package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath 默认配置文件路径
const DefaultPath = "config/config.yaml"

// Config 应用配置结构体
// 服务端（relay）使用 Server/Database/JWT/Redis/WebSocket
// 客户端（chatctl）使用 Backend/Realtime，两端都使用 Reconcile
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Backend   BackendConfig   `yaml:"backend"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         string        `yaml:"port"`         // 服务器监听端口
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读取超时时间
	WriteTimeout time.Duration `yaml:"writeTimeout"` // 写入超时时间
	IdleTimeout  time.Duration `yaml:"idleTimeout"`  // 空闲超时时间
	UploadDir    string        `yaml:"uploadDir"`    // 上传文件保存目录
	CORSOrigins  []string      `yaml:"corsOrigins"`  // 允许跨域的来源
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`   // mysql | sqlite
	Host     string `yaml:"host"`     // 数据库主机地址
	Port     int    `yaml:"port"`     // 数据库端口
	Username string `yaml:"username"` // 数据库用户名
	Password string `yaml:"password"` // 数据库密码
	Database string `yaml:"database"` // 数据库名称（sqlite 时为文件路径）
	Charset  string `yaml:"charset"`  // 字符集
	MaxIdle  int    `yaml:"maxIdle"`  // 最大空闲连接数
	MaxOpen  int    `yaml:"maxOpen"`  // 最大打开连接数
	LogLevel string `yaml:"logLevel"` // gorm 日志级别 silent/error/warn/info
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret     string        `yaml:"secret"`     // JWT密钥
	ExpireTime time.Duration `yaml:"expireTime"` // 访问令牌过期时间
	Issuer     string        `yaml:"issuer"`     // JWT签发者

	RefreshExpireTime time.Duration `yaml:"refreshExpireTime"` // 刷新令牌过期时间
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // 日志级别
	Filename   string `yaml:"filename"`   // 日志文件名，为空时输出到 stderr
	MaxSize    int    `yaml:"maxSize"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"maxBackups"` // 最大备份文件数
	MaxAge     int    `yaml:"maxAge"`     // 最大保存天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`  // 是否启用（在线状态、持久化离线队列）
	Host     string `yaml:"host"`     // Redis主机地址
	Port     int    `yaml:"port"`     // Redis端口
	Password string `yaml:"password"` // Redis密码
	DB       int    `yaml:"db"`       // Redis数据库编号
}

// WebSocketConfig 服务端 WebSocket 配置
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"pingInterval"` // 发送ping的间隔
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读超时时间（未收到任何数据则断开）
	RateLimit    float64       `yaml:"rateLimit"`    // 每个连接每秒允许的事件数
	RateBurst    int           `yaml:"rateBurst"`    // 突发上限
}

// BackendConfig 客户端访问的 REST 后端
type BackendConfig struct {
	BaseURL      string        `yaml:"baseURL"`      // 例如 http://localhost:8080
	Timeout      time.Duration `yaml:"timeout"`      // 单次请求超时
	PageSize     int           `yaml:"pageSize"`     // 会话列表单页数量
	Token        string        `yaml:"token"`        // 静态访问令牌
	RefreshToken string        `yaml:"refreshToken"` // 刷新令牌（优先于静态令牌）
	RefreshSkew  time.Duration `yaml:"refreshSkew"`  // 过期前多久刷新
	UserID       string        `yaml:"userID"`       // 当前用户
}

// RealtimeConfig 客户端实时连接配置
type RealtimeConfig struct {
	URL           string        `yaml:"url"`           // 例如 ws://localhost:8080/ws
	MaxAttempts   int           `yaml:"maxAttempts"`   // 连续重连次数上限
	RetryDelay    time.Duration `yaml:"retryDelay"`    // 重连间隔下限
	RetryDelayMax time.Duration `yaml:"retryDelayMax"` // 重连间隔上限
	PingInterval  time.Duration `yaml:"pingInterval"`  // 客户端 ping 间隔
	ReadTimeout   time.Duration `yaml:"readTimeout"`   // 读超时
	QueueBackend  string        `yaml:"queueBackend"`  // memory | redis
	QueueCapacity int           `yaml:"queueCapacity"` // 离线队列容量，0 表示不限
}

// ReconcileConfig 会话计数定期校验
type ReconcileConfig struct {
	Schedule  string `yaml:"schedule"`  // cron 表达式
	BatchSize int    `yaml:"batchSize"` // 每轮校验的会话数量
}

// LoadConfig 加载配置（混合方式：YAML文件 + .env + 环境变量）
func LoadConfig() *Config {
	return LoadConfigFile(DefaultPath)
}

// LoadConfigFile 从指定文件加载配置
func LoadConfigFile(filePath string) *Config {
	// 1. 从YAML文件加载，缺失或解析失败时使用默认配置
	config := loadFromYAML(filePath)

	// 2. .env 文件不存在时忽略
	_ = godotenv.Load()

	// 3. 用环境变量覆盖配置（环境变量优先级更高）
	overrideWithEnvVars(config)

	return config
}

// loadFromYAML 从YAML文件加载配置
func loadFromYAML(filePath string) *Config {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return getDefaultConfig()
	}

	// 在默认值之上解析，文件中未出现的字段保留默认值
	config := getDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return getDefaultConfig()
	}

	return config
}

// overrideWithEnvVars 用环境变量覆盖配置
func overrideWithEnvVars(config *Config) {
	// 服务器配置
	if port := getEnv("SERVER_PORT", ""); port != "" {
		config.Server.Port = port
	}
	if timeout := getEnvDuration("SERVER_READ_TIMEOUT", 0); timeout > 0 {
		config.Server.ReadTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_WRITE_TIMEOUT", 0); timeout > 0 {
		config.Server.WriteTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_IDLE_TIMEOUT", 0); timeout > 0 {
		config.Server.IdleTimeout = timeout
	}
	if dir := getEnv("SERVER_UPLOAD_DIR", ""); dir != "" {
		config.Server.UploadDir = dir
	}

	// 数据库配置
	if driver := getEnv("DB_DRIVER", ""); driver != "" {
		config.Database.Driver = driver
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		config.Database.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.Database.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.Database.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.Database.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.Database.Database = database
	}
	if maxIdle := getEnvInt("DB_MAX_IDLE", 0); maxIdle > 0 {
		config.Database.MaxIdle = maxIdle
	}
	if maxOpen := getEnvInt("DB_MAX_OPEN", 0); maxOpen > 0 {
		config.Database.MaxOpen = maxOpen
	}

	// JWT配置
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		config.JWT.Secret = secret
	}
	if expireTime := getEnvDuration("JWT_EXPIRE_TIME", 0); expireTime > 0 {
		config.JWT.ExpireTime = expireTime
	}
	if issuer := getEnv("JWT_ISSUER", ""); issuer != "" {
		config.JWT.Issuer = issuer
	}
	if expireTime := getEnvDuration("JWT_REFRESH_EXPIRE_TIME", 0); expireTime > 0 {
		config.JWT.RefreshExpireTime = expireTime
	}

	// 日志配置
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename, ok := os.LookupEnv("LOG_FILENAME"); ok {
		config.Log.Filename = filename
	}

	// Redis配置
	config.Redis.Enabled = getEnvBool("REDIS_ENABLED", config.Redis.Enabled)
	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}

	// WebSocket配置
	if d := getEnvDuration("WS_PING_INTERVAL", 0); d > 0 {
		config.WebSocket.PingInterval = d
	}
	if d := getEnvDuration("WS_READ_TIMEOUT", 0); d > 0 {
		config.WebSocket.ReadTimeout = d
	}
	if burst := getEnvInt("WS_RATE_BURST", 0); burst > 0 {
		config.WebSocket.RateBurst = burst
	}

	// 后端与实时连接
	if u := getEnv("BACKEND_URL", ""); u != "" {
		config.Backend.BaseURL = u
	}
	if token := getEnv("BACKEND_TOKEN", ""); token != "" {
		config.Backend.Token = token
	}
	if token := getEnv("BACKEND_REFRESH_TOKEN", ""); token != "" {
		config.Backend.RefreshToken = token
	}
	if userID := getEnv("CHAT_USER_ID", ""); userID != "" {
		config.Backend.UserID = userID
	}
	if u := getEnv("REALTIME_URL", ""); u != "" {
		config.Realtime.URL = u
	}
	if n := getEnvInt("REALTIME_MAX_ATTEMPTS", 0); n > 0 {
		config.Realtime.MaxAttempts = n
	}
	if backend := getEnv("REALTIME_QUEUE_BACKEND", ""); backend != "" {
		config.Realtime.QueueBackend = backend
	}
	if n := getEnvInt("REALTIME_QUEUE_CAPACITY", -1); n >= 0 {
		config.Realtime.QueueCapacity = n
	}
	if schedule := getEnv("RECONCILE_SCHEDULE", ""); schedule != "" {
		config.Reconcile.Schedule = schedule
	}
}

// getDefaultConfig 获取默认配置
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			UploadDir:    "uploads",
			CORSOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			Username: "freight",
			Password: "",
			Database: "freight_chat",
			Charset:  "utf8mb4",
			MaxIdle:  10,
			MaxOpen:  100,
			LogLevel: "warn",
		},
		JWT: JWTConfig{
			Secret:     "your-secret-key",
			ExpireTime: 24 * time.Hour,
			Issuer:     "freight-chat",

			RefreshExpireTime: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/app.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  90 * time.Second,
			RateLimit:    20,
			RateBurst:    40,
		},
		Backend: BackendConfig{
			BaseURL:     "http://localhost:8080",
			Timeout:     15 * time.Second,
			PageSize:    50,
			RefreshSkew: time.Minute,
		},
		Realtime: RealtimeConfig{
			URL:           "ws://localhost:8080/ws",
			MaxAttempts:   5,
			RetryDelay:    time.Second,
			RetryDelayMax: 5 * time.Second,
			PingInterval:  25 * time.Second,
			ReadTimeout:   60 * time.Second,
			QueueBackend:  "memory",
			QueueCapacity: 500,
		},
		Reconcile: ReconcileConfig{
			Schedule:  "*/15 * * * *",
			BatchSize: 100,
		},
	}
}

// 辅助函数：获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 辅助函数：获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 辅助函数：获取布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// 辅助函数：获取时间环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
