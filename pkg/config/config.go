// Package config はサービス共通の設定を読み込む。
//
// 設定はconfig.yaml（./configs または カレントディレクトリ）と環境変数から
// 組み立てられ、環境変数が優先される。
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config はサービスの設定値。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string `mapstructure:"jwt_secret"`
	// FrontendURL はCORSで許可するダッシュボードのオリジン。
	FrontendURL string `mapstructure:"frontend_url"`
	// DevAuth は本人確認なしでトークンを発行する開発用エンドポイントを有効にする。
	// 本番環境では有効にしてはならない。
	DevAuth bool `mapstructure:"dev_auth"`
	// BootstrapAdmins は承認リクエストなしでトークンを発行する管理者のメールアドレス。
	BootstrapAdmins []string `mapstructure:"bootstrap_admins"`
	// Store はドキュメントストアの設定。
	Store StoreConfig `mapstructure:"store"`
	// Feed はチェンジフィードの設定。
	Feed FeedConfig `mapstructure:"feed"`
	// Log はロガーの設定。
	Log LogConfig `mapstructure:"log"`
	// Services は内部サービスのURL。
	Services ServiceURLs `mapstructure:"services"`
}

// StoreConfig はドキュメントストアの接続設定。
type StoreConfig struct {
	// Driver は"sqlite"または"mongo"。
	Driver string `mapstructure:"driver"`
	// SQLitePath はSQLiteのデータソース名。
	SQLitePath string `mapstructure:"sqlite_path"`
	// MongoURI はMongoDBの接続URI。
	MongoURI string `mapstructure:"mongo_uri"`
	// MongoDatabase はMongoDBのデータベース名。
	MongoDatabase string `mapstructure:"mongo_database"`
}

// FeedConfig はチェンジフィードの接続設定。
type FeedConfig struct {
	// Driver は"memory"または"redis"。
	Driver string `mapstructure:"driver"`
	// RedisAddr はRedisのアドレス。
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisPassword はRedisのパスワード。
	RedisPassword string `mapstructure:"redis_password"`
	// RedisDB はRedisのDB番号。
	RedisDB int `mapstructure:"redis_db"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string `mapstructure:"level"`
	// Format は出力形式（json または console）。
	Format string `mapstructure:"format"`
}

// ServiceURLs は内部サービスのベースURL。
type ServiceURLs struct {
	// Notification は通知サービスのURL。
	Notification string `mapstructure:"notification"`
	// Approval は承認サービスのURL。
	Approval string `mapstructure:"approval"`
}

// 設定キーと環境変数の対応。
var envBindings = map[string]string{
	"port":                  "PORT",
	"jwt_secret":            "JWT_SECRET",
	"frontend_url":          "FRONTEND_URL",
	"dev_auth":              "DEV_AUTH",
	"bootstrap_admins":      "BOOTSTRAP_ADMINS",
	"store.driver":          "STORE_DRIVER",
	"store.sqlite_path":     "SQLITE_PATH",
	"store.mongo_uri":       "MONGO_URI",
	"store.mongo_database":  "MONGO_DATABASE",
	"feed.driver":           "FEED_DRIVER",
	"feed.redis_addr":       "REDIS_ADDR",
	"feed.redis_password":   "REDIS_PASSWORD",
	"feed.redis_db":         "REDIS_DB",
	"log.level":             "LOG_LEVEL",
	"log.format":            "LOG_FORMAT",
	"services.notification": "NOTIFICATION_URL",
	"services.approval":     "APPROVAL_URL",
}

// Load は設定を読み込む。defaultPortはPORTが未設定の場合のポート。
// searchPathsを省略した場合は./configsとカレントディレクトリからconfig.yamlを探す。
func Load(defaultPort string, searchPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"./configs", "."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	setDefaults(v, defaultPort)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("環境変数のバインドに失敗: key=%s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults はローカル開発用のデフォルト値を設定する。
func setDefaults(v *viper.Viper, defaultPort string) {
	v.SetDefault("port", defaultPort)
	v.SetDefault("jwt_secret", "dev-secret-key")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("dev_auth", false)
	v.SetDefault("bootstrap_admins", []string{})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "/data/shopadmin.db?_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "shopadmin")
	v.SetDefault("feed.driver", "memory")
	v.SetDefault("feed.redis_addr", "localhost:6379")
	v.SetDefault("feed.redis_password", "")
	v.SetDefault("feed.redis_db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("services.notification", "http://localhost:8086")
	v.SetDefault("services.approval", "http://localhost:8087")
}

// validate は設定値の組み合わせを検証する。
func (c *Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "mongo":
	default:
		return fmt.Errorf("不明なストアドライバ: %q", c.Store.Driver)
	}
	switch c.Feed.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("不明なフィードドライバ: %q", c.Feed.Driver)
	}
	if c.Port == "" {
		return errors.New("ポートが設定されていません")
	}
	return nil
}
