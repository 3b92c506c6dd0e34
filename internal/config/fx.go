package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(provideImportSettings),
)

func provideImportSettings(cfg Config) (*ImportSettingsHolder, error) {
	return NewImportSettingsHolder(cfg.Import.SettingsConfigPath)
}
