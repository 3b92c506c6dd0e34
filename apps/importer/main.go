package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finledger/internal/clock"
	"github.com/smallbiznis/finledger/internal/config"
	"github.com/smallbiznis/finledger/internal/csvimport"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/smallbiznis/finledger/internal/dailyimport"
	dailydomain "github.com/smallbiznis/finledger/internal/dailyimport/domain"
	"github.com/smallbiznis/finledger/internal/migration"
	"github.com/smallbiznis/finledger/internal/observability"
	"github.com/smallbiznis/finledger/internal/observability/logger"
	"github.com/smallbiznis/finledger/internal/ratelimit"
	"github.com/smallbiznis/finledger/pkg/db"
	"go.uber.org/fx"
)

type output struct {
	Success bool                    `json:"success"`
	Error   string                  `json:"error,omitempty"`
	Stats   *csvdomain.ImportReport `json:"stats,omitempty"`
}

func main() {
	filePath := flag.String("file", "", "path of a CSV export to import")
	sourceURL := flag.String("url", "", "http(s) URL to fetch the CSV export from")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline for the import")
	flag.Parse()

	if (strings.TrimSpace(*filePath) == "") == (strings.TrimSpace(*sourceURL) == "") {
		fmt.Fprintln(os.Stderr, "importer: exactly one of -file or -url is required")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(strings.TrimSpace(*filePath), strings.TrimSpace(*sourceURL), *timeout))
}

func run(filePath, sourceURL string, timeout time.Duration) int {
	var (
		imports csvdomain.Service
		daily   dailydomain.Service
	)
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Decorate(logToStderr),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		csvimport.Module,
		dailyimport.Module,
		fx.Populate(&imports, &daily),
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "importer: start: %v\n", err)
		return 1
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	rep, err := importOnce(ctx, imports, daily, filePath, sourceURL)
	out := output{Success: err == nil, Stats: rep}
	if err != nil {
		out.Error = err.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		fmt.Fprintf(os.Stderr, "importer: write report: %v\n", encErr)
		return 1
	}
	if err != nil {
		return 1
	}
	return 0
}

func importOnce(ctx context.Context, imports csvdomain.Service, daily dailydomain.Service, filePath, sourceURL string) (*csvdomain.ImportReport, error) {
	if sourceURL != "" {
		return daily.ImportURL(ctx, sourceURL)
	}

	content, err := readFile(filePath)
	if err != nil {
		return nil, err
	}
	return imports.RunImport(ctx, csvdomain.ImportRequest{
		Content: content,
		Source:  csvdomain.RunSourceUpload,
	})
}

func readFile(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}

// logToStderr keeps stdout for the JSON report.
func logToStderr(cfg logger.Config) logger.Config {
	cfg.OutputPaths = []string{"stderr"}
	return cfg
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode((cfg.SnowflakeNode + 2) % 1024)
}
