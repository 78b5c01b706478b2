package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服务端配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Game     GameConfig     `yaml:"game"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig WebSocket 服务器配置
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig 身份验证配置
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // 握手令牌校验密钥，为空时只发放访客身份
}

// GameConfig 游戏配置
type GameConfig struct {
	LobbyCountdown  int `yaml:"lobby_countdown"`   // 大厅准备倒计时（秒）
	DeployCountdown int `yaml:"deploy_countdown"`  // 布阵倒计时（秒）
	TurnTimeout     int `yaml:"turn_timeout"`      // 回合超时（秒）
	TurnTimeoutMin  int `yaml:"turn_timeout_min"`  // 回合超时惩罚下限（秒）
	MaxTurnTimeouts int `yaml:"max_turn_timeouts"` // 超时次数上限，达到则判负
	GraceLobby      int `yaml:"grace_lobby"`       // 大厅阶段掉线宽限期（秒）
	GraceBattle     int `yaml:"grace_battle"`      // 布阵/战斗阶段掉线宽限期（秒）
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	MessageLimit   MsgLimitConfig  `yaml:"message_limit"`
}

// RateLimitConfig 连接速率限制
type RateLimitConfig struct {
	MaxPerSecond    int `yaml:"max_per_second"`
	MaxPerMinute    int `yaml:"max_per_minute"`
	BanDurationMins int `yaml:"ban_duration_mins"`
}

// MsgLimitConfig 消息速率限制
type MsgLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
}

// LobbyCountdownDuration 返回大厅倒计时时长
func (c *GameConfig) LobbyCountdownDuration() time.Duration {
	return time.Duration(c.LobbyCountdown) * time.Second
}

// DeployCountdownDuration 返回布阵倒计时时长
func (c *GameConfig) DeployCountdownDuration() time.Duration {
	return time.Duration(c.DeployCountdown) * time.Second
}

// TurnTimeoutDuration 返回回合超时时长
func (c *GameConfig) TurnTimeoutDuration() time.Duration {
	return time.Duration(c.TurnTimeout) * time.Second
}

// TurnTimeoutMinDuration 返回回合超时惩罚下限
func (c *GameConfig) TurnTimeoutMinDuration() time.Duration {
	return time.Duration(c.TurnTimeoutMin) * time.Second
}

// GraceLobbyDuration 返回大厅阶段宽限期
func (c *GameConfig) GraceLobbyDuration() time.Duration {
	return time.Duration(c.GraceLobby) * time.Second
}

// GraceBattleDuration 返回战斗阶段宽限期
func (c *GameConfig) GraceBattleDuration() time.Duration {
	return time.Duration(c.GraceBattle) * time.Second
}

// BanDurationTime 返回封禁时长
func (c *RateLimitConfig) BanDurationTime() time.Duration {
	return time.Duration(c.BanDurationMins) * time.Minute
}

// Load 加载配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1944
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 2000
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Game.LobbyCountdown == 0 {
		c.Game.LobbyCountdown = 60
	}
	if c.Game.DeployCountdown == 0 {
		c.Game.DeployCountdown = 120
	}
	if c.Game.TurnTimeout == 0 {
		c.Game.TurnTimeout = 30
	}
	if c.Game.TurnTimeoutMin == 0 {
		c.Game.TurnTimeoutMin = 10
	}
	if c.Game.MaxTurnTimeouts == 0 {
		c.Game.MaxTurnTimeouts = 3
	}
	if c.Game.GraceLobby == 0 {
		c.Game.GraceLobby = 4
	}
	if c.Game.GraceBattle == 0 {
		c.Game.GraceBattle = 10
	}
	if c.Security.RateLimit.MaxPerSecond == 0 {
		c.Security.RateLimit.MaxPerSecond = 5
	}
	if c.Security.RateLimit.MaxPerMinute == 0 {
		c.Security.RateLimit.MaxPerMinute = 60
	}
	if c.Security.RateLimit.BanDurationMins == 0 {
		c.Security.RateLimit.BanDurationMins = 10
	}
	if c.Security.MessageLimit.MaxPerSecond == 0 {
		c.Security.MessageLimit.MaxPerSecond = 20
	}
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
