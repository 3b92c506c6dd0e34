package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/finledger/internal/clock"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/smallbiznis/finledger/internal/dailyimport/domain"
	"github.com/smallbiznis/finledger/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    csvdomain.Repository
	Imports csvdomain.Service
	Fetcher domain.Fetcher
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    csvdomain.Repository
	imports csvdomain.Service
	fetcher domain.Fetcher

	// running is the Idle/Running guard.
	running atomic.Bool
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("dailyimport.service"),
		clock:   c,
		repo:    p.Repo,
		imports: p.Imports,
		fetcher: p.Fetcher,
	}
}

func (s *Service) Run(ctx context.Context, source csvdomain.RunSource) (*domain.Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, domain.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	return s.run(ctx, source)
}

func (s *Service) RunIfDue(ctx context.Context) (*domain.Result, bool, error) {
	cfg, err := s.loadConfig(ctx, s.db)
	if err != nil {
		return nil, false, err
	}
	if !isActive(cfg) || !isDue(cfg, s.clock.Now()) {
		return nil, false, nil
	}

	res, err := s.Run(ctx, csvdomain.RunSourceScheduled)
	return res, true, err
}

// isDue reports whether the last successful import fell on an earlier UTC day.
func isDue(cfg domain.ImportConfig, now time.Time) bool {
	if cfg.LastImport == nil {
		return true
	}
	last := cfg.LastImport.UTC().Format("2006-01-02")
	return last < now.UTC().Format("2006-01-02")
}

func isActive(cfg domain.ImportConfig) bool {
	return cfg.Enabled && strings.TrimSpace(cfg.SourceURL) != ""
}

func (s *Service) run(ctx context.Context, source csvdomain.RunSource) (*domain.Result, error) {
	log := logger.WithContext(ctx, s.log)

	cfg, err := s.loadConfig(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if !isActive(cfg) {
		return &domain.Result{Success: false, Reason: domain.ReasonDisabled, Config: &cfg}, nil
	}

	body, err := s.fetcher.Fetch(ctx, cfg.SourceURL)
	if err != nil {
		log.Warn("daily import fetch failed", zap.Error(err))
		return &domain.Result{Success: false, Error: err.Error(), Config: &cfg}, err
	}

	rep, err := s.imports.RunImport(ctx, csvdomain.ImportRequest{Content: body, Source: source})
	if err != nil {
		return &domain.Result{Success: false, Error: err.Error(), Stats: rep, Config: &cfg}, err
	}

	bumped, err := s.bump(ctx)
	if err != nil {
		log.Error("daily import config not updated after successful import", zap.Error(err))
		err = &csvdomain.StoreError{Op: "update daily import config", Err: err}
		return &domain.Result{Success: false, Error: err.Error(), Stats: rep, Config: &cfg}, err
	}

	log.Info("daily import completed",
		zap.String("run_id", rep.RunID),
		zap.Int("import_count", bumped.ImportCount),
		zap.Int("dates_written", rep.DatesWritten),
	)
	return &domain.Result{Success: true, Stats: rep, Config: bumped}, nil
}

// bump re-reads the config inside a transaction so a concurrent UpdateConfig is not lost.
func (s *Service) bump(ctx context.Context) (*domain.ImportConfig, error) {
	var out domain.ImportConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		cfg.LastImport = &now
		cfg.ImportCount++
		if err := s.saveConfig(ctx, tx, cfg); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) ImportURL(ctx context.Context, rawURL string) (*csvdomain.ImportReport, error) {
	target, err := validateSourceURL(rawURL)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, domain.ErrInvalidURL
	}
	body, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.imports.RunImport(ctx, csvdomain.ImportRequest{Content: body, Source: csvdomain.RunSourceURL})
}

func (s *Service) GetConfig(ctx context.Context) (*domain.ImportConfig, error) {
	cfg, err := s.loadConfig(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Service) UpdateConfig(ctx context.Context, req domain.UpdateConfigRequest) (*domain.ImportConfig, error) {
	var sourceURL string
	if req.SourceURL != nil {
		normalized, err := validateSourceURL(*req.SourceURL)
		if err != nil {
			return nil, err
		}
		sourceURL = normalized
	}

	var out domain.ImportConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if req.Enabled != nil {
			cfg.Enabled = *req.Enabled
		}
		if req.SourceURL != nil {
			cfg.SourceURL = sourceURL
		}
		if err := s.saveConfig(ctx, tx, cfg); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("daily import config updated", zap.Bool("enabled", out.Enabled), zap.Bool("has_source_url", out.SourceURL != ""))
	return &out, nil
}

// validateSourceURL accepts an empty value or an absolute http(s) URL.
func validateSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return "", domain.ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String(), nil
	default:
		return "", domain.ErrInvalidURL
	}
}

func (s *Service) loadConfig(ctx context.Context, db *gorm.DB) (domain.ImportConfig, error) {
	setting, err := s.repo.GetSetting(ctx, db, csvdomain.SettingKeyDailyImport)
	if err != nil {
		return domain.ImportConfig{}, err
	}
	var cfg domain.ImportConfig
	if setting == nil || len(setting.SettingValue) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(setting.SettingValue, &cfg); err != nil {
		return domain.ImportConfig{}, fmt.Errorf("decode %s: %w", csvdomain.SettingKeyDailyImport, err)
	}
	return cfg, nil
}

func (s *Service) saveConfig(ctx context.Context, db *gorm.DB, cfg domain.ImportConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.repo.UpsertSetting(ctx, db, &csvdomain.AppSetting{
		SettingKey:   csvdomain.SettingKeyDailyImport,
		SettingValue: datatypes.JSON(raw),
		UpdatedAt:    s.clock.Now(),
	})
}

