// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"errors"
	"fmt"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the relay configuration file.
type Config struct {
	RocketChat RocketChatConfig `yaml:"rocketchat"`
	Relay      RelayConfig      `yaml:"relay"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Matrix     MatrixConfig     `yaml:"matrix"`
	Mattermost MattermostConfig `yaml:"mattermost"`
	// AdminAPIAddr is the listen address for the admin HTTP API. Empty
	// disables it.
	AdminAPIAddr string        `yaml:"admin_api_addr"`
	Logging      LoggingConfig `yaml:"logging"`
}

type RocketChatConfig struct {
	ServerURL string `yaml:"server_url"`
	Login     string `yaml:"login"`
	Password  string `yaml:"password"`
	// Timeout is in seconds. Zero uses the client default.
	Timeout int `yaml:"timeout"`
}

type RelayConfig struct {
	RoomID          string `yaml:"room_id"`
	MessageTemplate string `yaml:"message_template"`
	StatusReply     string `yaml:"status_reply"`
}

type TelegramConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Token         string `yaml:"token"`
	APIEndpoint   string `yaml:"api_endpoint"`
	ProxyURL      string `yaml:"proxy_url"`
	ProxyUsername string `yaml:"proxy_username"`
	ProxyPassword string `yaml:"proxy_password"`
	PollTimeout   int    `yaml:"poll_timeout"`
}

type MatrixConfig struct {
	Enabled       bool     `yaml:"enabled"`
	HomeserverURL string   `yaml:"homeserver_url"`
	UserID        string   `yaml:"user_id"`
	AccessToken   string   `yaml:"access_token"`
	Rooms         []string `yaml:"rooms"`
	AutoJoin      bool     `yaml:"auto_join"`
}

type MattermostConfig struct {
	Enabled   bool     `yaml:"enabled"`
	ServerURL string   `yaml:"server_url"`
	Token     string   `yaml:"token"`
	BotPrefix string   `yaml:"bot_prefix"`
	Channels  []string `yaml:"channels"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Pretty bool   `yaml:"pretty"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the fields the enabled components need.
func (c *Config) PostProcess() error {
	var errs []error
	if c.RocketChat.ServerURL == "" {
		errs = append(errs, errors.New("rocketchat.server_url is required"))
	}
	if c.RocketChat.Login == "" {
		errs = append(errs, errors.New("rocketchat.login is required"))
	}
	if c.RocketChat.Timeout < 0 {
		errs = append(errs, errors.New("rocketchat.timeout must not be negative"))
	}
	if c.Relay.RoomID == "" {
		errs = append(errs, errors.New("relay.room_id is required"))
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required when telegram is enabled"))
	}
	if c.Matrix.Enabled && (c.Matrix.HomeserverURL == "" || c.Matrix.AccessToken == "") {
		errs = append(errs, errors.New("matrix.homeserver_url and matrix.access_token are required when matrix is enabled"))
	}
	if c.Mattermost.Enabled && (c.Mattermost.ServerURL == "" || c.Mattermost.Token == "") {
		errs = append(errs, errors.New("mattermost.server_url and mattermost.token are required when mattermost is enabled"))
	}
	if !c.Telegram.Enabled && !c.Matrix.Enabled && !c.Mattermost.Enabled && c.AdminAPIAddr == "" {
		errs = append(errs, errors.New("no front end is enabled and the admin API is disabled"))
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "rocketchat", "server_url")
	helper.Copy(up.Str, "rocketchat", "login")
	helper.Copy(up.Str, "rocketchat", "password")
	helper.Copy(up.Int, "rocketchat", "timeout")

	helper.Copy(up.Str, "relay", "room_id")
	helper.Copy(up.Str, "relay", "message_template")
	helper.Copy(up.Str, "relay", "status_reply")

	helper.Copy(up.Bool, "telegram", "enabled")
	helper.Copy(up.Str, "telegram", "token")
	helper.Copy(up.Str, "telegram", "api_endpoint")
	helper.Copy(up.Str, "telegram", "proxy_url")
	helper.Copy(up.Str, "telegram", "proxy_username")
	helper.Copy(up.Str, "telegram", "proxy_password")
	helper.Copy(up.Int, "telegram", "poll_timeout")

	helper.Copy(up.Bool, "matrix", "enabled")
	helper.Copy(up.Str, "matrix", "homeserver_url")
	helper.Copy(up.Str|up.Null, "matrix", "user_id")
	helper.Copy(up.Str, "matrix", "access_token")
	helper.Copy(up.List, "matrix", "rooms")
	helper.Copy(up.Bool, "matrix", "auto_join")

	helper.Copy(up.Bool, "mattermost", "enabled")
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.List, "mattermost", "channels")

	helper.Copy(up.Str, "admin_api_addr")

	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Str, "logging", "file")
	helper.Copy(up.Bool, "logging", "pretty")
}

// Upgrader merges a user config over ExampleConfig, filling in missing keys
// with their defaults.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"relay"},
		{"telegram"},
		{"matrix"},
		{"mattermost"},
		{"admin_api_addr"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// LoadConfig reads the config at path, merges it over the example config
// and validates the result. When save is true the merged file is written
// back to path.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
