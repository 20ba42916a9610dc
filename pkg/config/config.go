package config

// Package config provides a reusable loader for router configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/chaincore/router/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for a router node. It mirrors
// the structure of the YAML files under cmd/routerd/config/.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
	} `mapstructure:"network" json:"network"`

	Routing struct {
		AnnounceAccountCacheSize      int `mapstructure:"announce_account_cache_size" json:"announce_account_cache_size"`
		RouteBackCacheSize            int `mapstructure:"route_back_cache_size" json:"route_back_cache_size"`
		RouteBackCacheEvictSeconds    int `mapstructure:"route_back_cache_evict_seconds" json:"route_back_cache_evict_seconds"`
		RouteBackCacheRemoveBatch     int `mapstructure:"route_back_cache_remove_batch" json:"route_back_cache_remove_batch"`
		PingPongCacheSize             int `mapstructure:"ping_pong_cache_size" json:"ping_pong_cache_size"`
		RoundRobinMaxNonceDifference  int `mapstructure:"round_robin_max_nonce_difference" json:"round_robin_max_nonce_difference"`
		RoundRobinNonceCacheSize      int `mapstructure:"round_robin_nonce_cache_size" json:"round_robin_nonce_cache_size"`
		SavePeersMaxTimeSeconds       int `mapstructure:"save_peers_max_time_seconds" json:"save_peers_max_time_seconds"`
		DeletePeersAfterTimeSeconds   int `mapstructure:"delete_peers_after_time_seconds" json:"delete_peers_after_time_seconds"`
	} `mapstructure:"routing" json:"routing"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/routerd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // consults process environment variables; no .env file is read

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ROUTER_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ROUTER_ENV", ""))
}
