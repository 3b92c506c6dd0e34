package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smallbiznis/finledger/internal/config"
	"github.com/smallbiznis/finledger/internal/dailyimport/domain"
	obsmetrics "github.com/smallbiznis/finledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/finledger/internal/observability/tracing"
	"go.uber.org/fx"
)

var errBodyTooLarge = errors.New("response body exceeds limit")

type Params struct {
	fx.In

	Settings   *config.ImportSettingsHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// HTTPFetcher performs unauthenticated GETs. Timeout and body limit are read from the
// import settings on every call so a reload takes effect without a restart.
type HTTPFetcher struct {
	client     *http.Client
	settings   *config.ImportSettingsHolder
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Fetcher {
	return NewHTTPFetcher(nil, p.Settings, p.ObsMetrics)
}

func NewHTTPFetcher(client *http.Client, settings *config.ImportSettingsHolder, m *obsmetrics.Metrics) *HTTPFetcher {
	return &HTTPFetcher{
		client:     obstracing.WrapHTTPClient(client),
		settings:   settings,
		obsMetrics: m,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.fetch(ctx, url)
	if err != nil {
		f.obsMetrics.RecordSourceFetch(ctx, "failed")
		return "", err
	}
	f.obsMetrics.RecordSourceFetch(ctx, "succeeded")
	return body, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string) (string, error) {
	settings := f.settings.Get()
	timeout := settings.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.FetchError{Err: err}
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &domain.FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", &domain.FetchError{StatusCode: resp.StatusCode}
	}

	limit := settings.MaxBodyBytes
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", &domain.FetchError{Err: err}
	}
	if int64(len(raw)) > limit {
		return "", &domain.FetchError{Err: fmt.Errorf("%w (%d bytes)", errBodyTooLarge, limit)}
	}
	return string(raw), nil
}
