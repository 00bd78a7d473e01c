// qwcat/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/lithammer/shortuuid/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// AppDirName is the directory name used under the temp and cache roots.
const AppDirName = "qw-cat"

type Config struct {
	FFBin                    string        `mapstructure:"FF_BIN"`
	FFProbeBin               string        `mapstructure:"FFPROBE_BIN"`
	ToolsDir                 string        `mapstructure:"TOOLS_DIR"`
	TempDir                  string        `mapstructure:"TEMP_DIR"`
	BindHost                 string        `mapstructure:"BIND_HOST"`
	PortRangeStart           int           `mapstructure:"PORT_RANGE_START"`
	PortRangeEnd             int           `mapstructure:"PORT_RANGE_END"`
	AllowedOrigins           []string      `mapstructure:"ALLOWED_ORIGINS"`
	AuthEnable               bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey                  string        `mapstructure:"AUTH_KEY"`
	ExportPreset             string        `mapstructure:"EXPORT_PRESET"`
	ExportExtraArgs          string        `mapstructure:"EXPORT_EXTRA_ARGS"`
	DownloadURL              string        `mapstructure:"DOWNLOAD_URL"`
	DownloadProgressInterval time.Duration `mapstructure:"DOWNLOAD_PROGRESS_INTERVAL"`
	MinFreeDisk              int64         `mapstructure:"MIN_FREE_DISK"`
	MinFreeMem               int64         `mapstructure:"MIN_FREE_MEM"`
	TempFileLifetime         time.Duration `mapstructure:"TEMP_FILE_LIFETIME"`
	MetricsEnable            bool          `mapstructure:"METRICS_ENABLE"`
	LogLevel                 string        `mapstructure:"LOG_LEVEL"`
	LogFormat                string        `mapstructure:"LOG_FORMAT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// Load reads defaults, an optional qwcat_config.yaml and QWCAT_* environment
// variables. An explicit configFile takes precedence over the search paths.
func Load(configFile string) (*Config, error) {
	vp := viper.New()

	vp.SetDefault("FF_BIN", "")
	vp.SetDefault("FFPROBE_BIN", "")
	vp.SetDefault("TOOLS_DIR", defaultToolsDir())
	vp.SetDefault("TEMP_DIR", filepath.Join(os.TempDir(), AppDirName))
	vp.SetDefault("BIND_HOST", "127.0.0.1")
	vp.SetDefault("PORT_RANGE_START", 38125)
	vp.SetDefault("PORT_RANGE_END", 39125)
	vp.SetDefault("ALLOWED_ORIGINS", "http://localhost:1420,http://tauri.localhost")
	vp.SetDefault("AUTH_ENABLE", true)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("EXPORT_PRESET", "medium")
	vp.SetDefault("EXPORT_EXTRA_ARGS", "")
	vp.SetDefault("DOWNLOAD_URL", "")
	vp.SetDefault("DOWNLOAD_PROGRESS_INTERVAL", "250ms")
	vp.SetDefault("MIN_FREE_DISK", "200MB")
	vp.SetDefault("MIN_FREE_MEM", "100MB")
	vp.SetDefault("TEMP_FILE_LIFETIME", "1h")
	vp.SetDefault("METRICS_ENABLE", true)
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "auto")

	if configFile != "" {
		vp.SetConfigFile(configFile)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		vp.SetConfigName("qwcat_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			vp.AddConfigPath(filepath.Join(dir, AppDirName))
		}
		if err := vp.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	vp.SetEnvPrefix("QWCAT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	cfg.AllowedOrigins = trimEmpty(cfg.AllowedOrigins)
	if cfg.AuthEnable && cfg.AuthKey == "" {
		cfg.AuthKey = shortuuid.New()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot be used as loaded.
func (c *Config) Validate() error {
	if c.PortRangeStart < 0 || c.PortRangeEnd > 65535 {
		return fmt.Errorf("port range %d-%d is outside 0-65535", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.PortRangeStart > c.PortRangeEnd {
		return fmt.Errorf("port range start %d is greater than end %d", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.DownloadProgressInterval <= 0 {
		return fmt.Errorf("DOWNLOAD_PROGRESS_INTERVAL must be positive, got %s", c.DownloadProgressInterval)
	}
	if c.TempFileLifetime != 0 && c.TempFileLifetime < time.Second {
		return fmt.Errorf("TEMP_FILE_LIFETIME must be 0 (disabled) or at least 1s, got %s", c.TempFileLifetime)
	}
	if c.TempDir == "" {
		return fmt.Errorf("TEMP_DIR must not be empty")
	}
	if c.ToolsDir == "" {
		return fmt.Errorf("TOOLS_DIR must not be empty")
	}
	return nil
}

func defaultToolsDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppDirName+"-tools")
	}
	return filepath.Join(dir, AppDirName)
}

func trimEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
