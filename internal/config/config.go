package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string `mapstructure:"mode"`
	LogLevel     string `mapstructure:"log_level"`
	APIURL       string `mapstructure:"api_url"`
	WSURL        string `mapstructure:"ws_url"`
	ControlAddr  string `mapstructure:"control_addr"`
	IdentityPath string `mapstructure:"identity_path"`
	Token        string `mapstructure:"token"`

	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	ReadLimit      int64         `mapstructure:"read_limit"`

	TypingTTL      time.Duration `mapstructure:"typing_ttl"`
	TypingInterval time.Duration `mapstructure:"typing_interval"`

	Voice VoiceConfig `mapstructure:"voice"`
}

type VoiceConfig struct {
	// Role is "answerer" when the server sends the offer, "offerer" otherwise.
	Role               string        `mapstructure:"role"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	// Capture selects the local audio source: "silence" or "none".
	Capture string `mapstructure:"capture"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("ws_url", cfg.WSURL).
		Str("voice_role", cfg.Voice.Role).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("api_url", "http://localhost:8080/api")
	v.SetDefault("ws_url", "ws://localhost:8080/api/ws")
	v.SetDefault("control_addr", "127.0.0.1:7070")
	v.SetDefault("identity_path", "./identity.yaml")
	v.SetDefault("token", "")
	v.SetDefault("reconnect_delay", "3s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("typing_ttl", "5s")
	v.SetDefault("typing_interval", "3s")
	v.SetDefault("voice.role", "answerer")
	v.SetDefault("voice.negotiation_timeout", "20s")
	v.SetDefault("voice.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("voice.capture", "silence")
}

func (c *Config) Validate() error {
	switch c.Voice.Role {
	case "answerer", "offerer":
	default:
		return fmt.Errorf("config: voice.role %q: want answerer or offerer", c.Voice.Role)
	}
	switch c.Voice.Capture {
	case "silence", "none":
	default:
		return fmt.Errorf("config: voice.capture %q: want silence or none", c.Voice.Capture)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("config: ping_period %s must be shorter than pong_wait %s", c.PingPeriod, c.PongWait)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("config: reconnect_delay must be positive")
	}
	return nil
}
