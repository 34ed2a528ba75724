package config

import (
	"log"
	"os"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
}

type BackendConfig struct {
	BaseURL               string `toml:"baseURL"`
	WsURL                 string `toml:"wsURL"`
	RequestTimeoutSeconds int    `toml:"requestTimeoutSeconds"`
}

type LinkConfig struct {
	ReconnectMaxAttempts    int `toml:"reconnectMaxAttempts"`
	ReconnectDelaySeconds   int `toml:"reconnectDelaySeconds"`
	HandshakeTimeoutSeconds int `toml:"handshakeTimeoutSeconds"`
}

type PipelineConfig struct {
	PollIntervalSeconds int    `toml:"pollIntervalSeconds"`
	GmailDefaultLabelID string `toml:"gmailDefaultLabelID"`
	CacheTTLMinutes     int    `toml:"cacheTTLMinutes"`
}

type StateConfig struct {
	SnapshotPath string `toml:"snapshotPath"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

// StubConfig 本地联调用的模拟后端
type StubConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	SSLRedirect bool   `toml:"sslRedirect"`
}

type Config struct {
	MainConfig     `toml:"mainConfig"`
	BackendConfig  `toml:"backendConfig"`
	LinkConfig     `toml:"linkConfig"`
	PipelineConfig `toml:"pipelineConfig"`
	StateConfig    `toml:"stateConfig"`
	LogConfig      `toml:"logConfig"`
	JwtConfig      `toml:"jwtConfig"`
	StubConfig     `toml:"stubConfig"`
}

var config *Config

func LoadConfig() error {
	if config == nil {
		config = new(Config)
	}
	configPath := os.Getenv("SAGELINK_CONFIG")
	if configPath == "" {
		configPath = "configs/config_local.toml"
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		applyDefaults(config)
		return err
	}
	applyDefaults(config)
	return nil
}

// 缺省值兜底：配置文件缺失时客户端仍可运行
func applyDefaults(c *Config) {
	if c.MainConfig.AppName == "" {
		c.MainConfig.AppName = "SageLink"
	}
	if c.BackendConfig.BaseURL == "" {
		c.BackendConfig.BaseURL = "http://localhost:8000"
	}
	if c.BackendConfig.WsURL == "" {
		c.BackendConfig.WsURL = "ws://localhost:8000/wss"
	}
	if c.BackendConfig.RequestTimeoutSeconds <= 0 {
		c.BackendConfig.RequestTimeoutSeconds = 15
	}
	if c.LinkConfig.ReconnectMaxAttempts <= 0 {
		c.LinkConfig.ReconnectMaxAttempts = 5
	}
	if c.LinkConfig.ReconnectDelaySeconds <= 0 {
		c.LinkConfig.ReconnectDelaySeconds = 3
	}
	if c.LinkConfig.HandshakeTimeoutSeconds <= 0 {
		c.LinkConfig.HandshakeTimeoutSeconds = 10
	}
	if c.PipelineConfig.PollIntervalSeconds <= 0 {
		c.PipelineConfig.PollIntervalSeconds = 2
	}
	if c.PipelineConfig.CacheTTLMinutes <= 0 {
		c.PipelineConfig.CacheTTLMinutes = 10
	}
	if c.StateConfig.SnapshotPath == "" {
		c.StateConfig.SnapshotPath = "sagelink_state.json"
	}
	if c.StubConfig.Host == "" {
		c.StubConfig.Host = "localhost"
	}
	if c.StubConfig.Port <= 0 {
		c.StubConfig.Port = 8000
	}
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
	}
	return config
}
