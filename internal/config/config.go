package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// configFileEnv は任意のTOML設定ファイルのパスを指定する環境変数。
const configFileEnv = "DIRECTORIO_CONFIG"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	SupabaseURL     string
	SupabaseAnonKey string
	DatabaseURL     string

	// Auth
	AllowedEmailDomain   string
	SessionFile          string
	AutoRefreshToken     bool
	RefreshMargin        time.Duration
	ReactivationDebounce time.Duration
	HTTPTimeout          time.Duration
	AuthRateLimit        int // req/min

	// Export
	ExportEncoding string

	// Logging
	LogFile  string
	LogLevel string

	// Ops
	MetricsAddr string
}

// source は環境変数を優先し、未設定の場合は設定ファイルの値を返す。
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

// Load は環境変数（とDIRECTORIO_CONFIGで指定されたTOMLファイル）からConfigを読み込む。
// 必須項目が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	src, err := loadSource()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	var missing []string

	cfg.SupabaseURL = strings.TrimRight(src.get("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	cfg.SupabaseAnonKey = src.get("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}

	cfg.DatabaseURL = src.get("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.AllowedEmailDomain = getString(src, "ALLOWED_EMAIL_DOMAIN", "@aifa.aero")
	cfg.SessionFile = getString(src, "SESSION_FILE", defaultStatePath("session.json"))
	cfg.AutoRefreshToken = getBool(src, "AUTO_REFRESH_TOKEN", true)
	cfg.RefreshMargin = getDuration(src, "REFRESH_MARGIN", 60*time.Second)
	cfg.ReactivationDebounce = getDuration(src, "REACTIVATION_DEBOUNCE", 2*time.Second)
	cfg.HTTPTimeout = getDuration(src, "HTTP_TIMEOUT", 10*time.Second)
	cfg.AuthRateLimit = getInt(src, "AUTH_RATE_LIMIT", 30)
	cfg.ExportEncoding = getString(src, "EXPORT_ENCODING", "utf-8")
	cfg.LogFile = getString(src, "LOG_FILE", defaultStatePath("directorio.log"))
	cfg.LogLevel = getString(src, "LOG_LEVEL", "info")
	cfg.MetricsAddr = getString(src, "METRICS_ADDR", "")

	return cfg, nil
}

// loadSource はTOML設定ファイルを読み込む。キーは環境変数名に正規化する。
// 例: supabase_url = "..." は SUPABASE_URL として扱う。
func loadSource() (source, error) {
	src := source{file: map[string]string{}}

	path := os.Getenv(configFileEnv)
	if path == "" {
		return src, nil
	}

	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return src, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		src.file[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return src, nil
}

// defaultStatePath はXDG_STATE_HOME（未設定なら~/.local/state）配下のパスを返す。
func defaultStatePath(name string) string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "directorio", name)
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "directorio", name)
}

func getString(src source, key, defaultVal string) string {
	if v := src.get(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(src source, key string, defaultVal int) int {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getBool(src source, key string, defaultVal bool) bool {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getDuration(src source, key string, defaultVal time.Duration) time.Duration {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
