package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bainblan/Whos-There/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// HTTPProvider calls the rhythm generation service.
type HTTPProvider struct {
	url    string
	client *http.Client
	cache  *expirable.LRU[string, *Response]
	logger zerolog.Logger
}

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	URL       string
	Timeout   time.Duration
	CacheSize int // 0 disables caching
	CacheTTL  time.Duration
	Client    *http.Client
}

// NewHTTPProvider creates a client for the service at opts.URL.
func NewHTTPProvider(opts HTTPOptions, logger zerolog.Logger) *HTTPProvider {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	p := &HTTPProvider{
		url:    opts.URL,
		client: client,
		logger: logger.With().Str("component", "provider").Str("url", opts.URL).Logger(),
	}
	// Only custom prompts are cached; random requests must stay random.
	if opts.CacheSize > 0 {
		p.cache = expirable.NewLRU[string, *Response](opts.CacheSize, nil, opts.CacheTTL)
	}
	return p
}

// Name identifies the provider in logs and metrics.
func (p *HTTPProvider) Name() string { return "http" }

type wireResponse struct {
	Description string    `json:"description"`
	Intervals   []float64 `json:"intervals"`
	Error       string    `json:"error"`
}

// Generate requests a rhythm from the service.
func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		metrics.ProviderRequests.WithLabelValues(p.Name(), string(req.Mode), "invalid").Inc()
		return nil, err
	}

	cacheKey := strings.TrimSpace(req.UserPrompt)
	if p.cache != nil && req.Mode == ModeCustom {
		if resp, ok := p.cache.Get(cacheKey); ok {
			metrics.ProviderCacheHits.Inc()
			p.logger.Debug().Str("prompt", cacheKey).Msg("Rhythm cache hit")
			return cloneResponse(resp), nil
		}
	}

	resp, err := p.do(ctx, req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(p.Name(), string(req.Mode), "error").Inc()
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues(p.Name(), string(req.Mode), "ok").Inc()

	if p.cache != nil && req.Mode == ModeCustom {
		p.cache.Add(cacheKey, cloneResponse(resp))
	}
	return resp, nil
}

func (p *HTTPProvider) do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rhythm service request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read rhythm service response: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rhythm service returned %s", httpResp.Status)
		}
		return nil, fmt.Errorf("failed to decode rhythm service response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		if wire.Error != "" {
			return nil, fmt.Errorf("rhythm service returned %s: %s", httpResp.Status, wire.Error)
		}
		return nil, fmt.Errorf("rhythm service returned %s", httpResp.Status)
	}

	seq, err := toSequence(wire.Intervals)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("mode", string(req.Mode)).
		Str("rhythm", seq.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Rhythm generated")

	return &Response{Description: wire.Description, Intervals: seq}, nil
}

func cloneResponse(r *Response) *Response {
	return &Response{Description: r.Description, Intervals: r.Intervals.Clone()}
}
