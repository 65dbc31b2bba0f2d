package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/farxc/bpc-insight/internal/bpc/files"
	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/farxc/bpc-insight/internal/metrics"
	"github.com/go-gota/gota/dataframe"
	"github.com/sony/gobreaker"
)

const DefaultBaseURL = "https://portaldatransparencia.gov.br/download-de-dados/bpc/"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

// ErrNotPublished means the portal has no archive for the period yet.
var ErrNotPublished = errors.New("period not published")

// Fetch failure reasons, also used as metric labels.
const (
	ReasonNotPublished = "not_published"
	ReasonHTTP         = "http"
	ReasonBreakerOpen  = "breaker_open"
	ReasonArchive      = "archive"
	ReasonEmpty        = "empty"
	ReasonCanceled     = "canceled"
)

type Config struct {
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	CacheDir       string        `koanf:"cache_dir"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Timeout:        5 * time.Minute,
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
	}
}

// FetchResult is either a raw table for the period or a failure reason. A
// failed fetch is never an error for the caller: the period is just absent.
type FetchResult struct {
	Period      types.Period
	Success     bool
	Table       *dataframe.DataFrame
	Rows        int
	SkippedRows int
	FromCache   bool
	Reason      string
	Err         error
}

// Fetcher returns one period's raw table or an absent result.
type Fetcher interface {
	Fetch(ctx context.Context, period types.Period) FetchResult
}

// PortalFetcher downloads BPC archives from the transparency portal with a
// bounded per-request timeout, exponential retries and a circuit breaker.
type PortalFetcher struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

func NewPortalFetcher(cfg Config, appLogger *logger.Logger) *PortalFetcher {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}

	client := &http.Client{Timeout: cfg.Timeout}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		req.Header.Set("User-Agent", userAgent)
		return nil
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "portal",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A missing period is an answer from the portal, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotPublished)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLogger.Warn("Downloader", "Circuit breaker %s: %s -> %s", name, from, to)
			if to == gobreaker.StateOpen {
				metrics.BreakerOpen.Set(1)
			} else {
				metrics.BreakerOpen.Set(0)
			}
		},
	})

	return &PortalFetcher{cfg: cfg, client: client, breaker: breaker, logger: appLogger}
}

func (f *PortalFetcher) URL(period types.Period) string {
	return strings.TrimSuffix(f.cfg.BaseURL, "/") + "/" + period.Code()
}

func (f *PortalFetcher) cachePath(period types.Period) string {
	if f.cfg.CacheDir == "" {
		return ""
	}
	return filepath.Join(f.cfg.CacheDir, "bpc_"+period.Code()+".zip")
}

func (f *PortalFetcher) Fetch(ctx context.Context, period types.Period) FetchResult {
	const component = "Downloader"
	result := FetchResult{Period: period}

	data, fromCache, err := f.archive(ctx, period)
	if err != nil {
		result.Err = err
		switch {
		case errors.Is(err, ErrNotPublished):
			result.Reason = ReasonNotPublished
			f.logger.Info(component, "Period not published yet: period=%s", period)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result.Reason = ReasonBreakerOpen
			f.logger.Warn(component, "Portal circuit open, skipping: period=%s", period)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			result.Reason = ReasonCanceled
			f.logger.Warn(component, "Download canceled: period=%s error=%v", period, err)
		default:
			result.Reason = ReasonHTTP
			f.logger.Error(component, "Download failed: period=%s error=%v", period, err)
		}
		return result
	}
	result.FromCache = fromCache

	decoded, err := files.ReadArchive(data, f.logger)
	if err != nil {
		result.Err = err
		result.Reason = ReasonArchive
		if errors.Is(err, files.ErrEmptyDataset) {
			result.Reason = ReasonEmpty
		}
		f.logger.Error(component, "Failed to read archive: period=%s error=%v", period, err)
		if fromCache {
			if rmErr := os.Remove(f.cachePath(period)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				f.logger.Warn(component, "Failed to drop cached archive: period=%s error=%v", period, rmErr)
			}
		}
		return result
	}

	if path := f.cachePath(period); path != "" && !fromCache {
		if err := writeFileAtomic(path, data); err != nil {
			f.logger.Warn(component, "Failed to cache archive: period=%s path=%s error=%v", period, path, err)
		}
	}

	result.Success = true
	result.Table = decoded.Table
	result.Rows = decoded.Rows
	result.SkippedRows = decoded.SkippedRows
	if decoded.SkippedRows > 0 {
		f.logger.Warn(component, "Skipped malformed rows: period=%s skipped=%d", period, decoded.SkippedRows)
	}
	return result
}

// archive returns the zip bytes for period, from the cache when present.
// Fetch caches downloaded bytes only once they decode.
func (f *PortalFetcher) archive(ctx context.Context, period types.Period) ([]byte, bool, error) {
	const component = "Downloader"

	path := f.cachePath(period)
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			f.logger.Debug(component, "Using cached archive: period=%s path=%s", period, path)
			return data, true, nil
		}
	}

	data, err := f.download(ctx, period)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func (f *PortalFetcher) download(ctx context.Context, period types.Period) ([]byte, error) {
	const component = "Downloader"
	url := f.URL(period)
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.InitialBackoff

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		if attempt > 1 {
			metrics.DownloadRetries.Inc()
			f.logger.Debug(component, "Retrying download: period=%s attempt=%d", period, attempt)
		}

		out, err := f.breaker.Execute(func() (interface{}, error) {
			return f.get(ctx, url)
		})
		if err != nil {
			if errors.Is(err, ErrNotPublished) || errors.Is(err, gobreaker.ErrOpenState) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out.([]byte), nil
	}

	f.logger.Debug(component, "Starting download for period=%s url=%s", period, url)
	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(f.cfg.MaxAttempts)),
	)
	if err != nil {
		return nil, err
	}

	metrics.DownloadDurationSeconds.Observe(time.Since(start).Seconds())
	f.logger.Info(component, "Download completed: period=%s size=%d bytes attempts=%d", period, len(data), attempt)
	return data, nil
}

func (f *PortalFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotPublished
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
