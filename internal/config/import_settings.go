package config

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ImportSettings are the parser and fetch knobs that can change without a restart.
type ImportSettings struct {
	DefaultChannel string        `mapstructure:"default_channel"`
	Delimiter      string        `mapstructure:"delimiter"`
	DecimalComma   bool          `mapstructure:"decimal_comma"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	StoreSource    bool          `mapstructure:"store_source"`
}

const (
	DelimiterAuto      = "auto"
	DelimiterComma     = ","
	DelimiterSemicolon = ";"
)

func DefaultImportSettings() ImportSettings {
	return ImportSettings{
		DefaultChannel: "unspecified",
		Delimiter:      DelimiterAuto,
		DecimalComma:   false,
		MaxBodyBytes:   32 << 20,
		FetchTimeout:   30 * time.Second,
		StoreSource:    true,
	}
}

type ImportSettingsHolder struct {
	current atomic.Value // holds ImportSettings
}

// NewImportSettingsHolder reads import.yml (or the file at path) and keeps it hot-reloaded.
// A missing file is not an error: defaults apply.
func NewImportSettingsHolder(path string) (*ImportSettingsHolder, error) {
	v := viper.New()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("import")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/finledger/config")
		v.AddConfigPath("/etc/finledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FINLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultImportSettings()
	v.SetDefault("import.default_channel", defaults.DefaultChannel)
	v.SetDefault("import.delimiter", defaults.Delimiter)
	v.SetDefault("import.decimal_comma", defaults.DecimalComma)
	v.SetDefault("import.max_body_bytes", defaults.MaxBodyBytes)
	v.SetDefault("import.fetch_timeout", defaults.FetchTimeout)
	v.SetDefault("import.store_source", defaults.StoreSource)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeImportSettings(v)
	if err != nil {
		return nil, err
	}

	holder := &ImportSettingsHolder{}
	holder.current.Store(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeImportSettings(v)
			if err != nil {
				log.Printf("[import-settings] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[import-settings] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticImportSettings returns a holder that never reloads.
func NewStaticImportSettings(settings ImportSettings) *ImportSettingsHolder {
	holder := &ImportSettingsHolder{}
	holder.current.Store(settings.withDefaults())
	return holder
}

func (h *ImportSettingsHolder) Get() ImportSettings {
	if h == nil {
		return DefaultImportSettings()
	}
	return h.current.Load().(ImportSettings)
}

func decodeImportSettings(v *viper.Viper) (ImportSettings, error) {
	var cfg ImportSettings
	if err := v.UnmarshalKey("import", &cfg); err != nil {
		return ImportSettings{}, err
	}
	cfg = cfg.withDefaults()
	if err := validateImportSettings(cfg); err != nil {
		return ImportSettings{}, err
	}
	return cfg, nil
}

func (s ImportSettings) withDefaults() ImportSettings {
	defaults := DefaultImportSettings()
	s.DefaultChannel = strings.TrimSpace(s.DefaultChannel)
	if s.DefaultChannel == "" {
		s.DefaultChannel = defaults.DefaultChannel
	}
	s.Delimiter = strings.TrimSpace(strings.ToLower(s.Delimiter))
	if s.Delimiter == "" {
		s.Delimiter = defaults.Delimiter
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = defaults.FetchTimeout
	}
	return s
}

func validateImportSettings(cfg ImportSettings) error {
	switch cfg.Delimiter {
	case DelimiterAuto, DelimiterComma, DelimiterSemicolon:
	default:
		return errors.New("import.delimiter must be one of auto, ',' or ';'")
	}
	return nil
}
