// Package providers defines the upstream market-data dependencies and their
// fetch functions. Each provider names the rate-limit and breaker record it
// runs under; providers without credentials fall back to generated mock data
// so the dashboard renders without keys.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/breaker"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/cache"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/ratelimit"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Channel names, doubling as the event names seen by real-time clients.
const (
	ChannelPrices    = "prices"
	ChannelDeFi      = "defi"
	ChannelNews      = "news"
	ChannelSentiment = "sentiment"
)

// Config holds provider configuration
type Config struct {
	MockMode         bool          `json:"mockMode" yaml:"mockMode"`                 // force mock data for every provider
	CoinGeckoAPIKey  string        `json:"coinGeckoApiKey" yaml:"coinGeckoApiKey"`   // empty -> mock prices
	CryptoPanicToken string        `json:"cryptoPanicToken" yaml:"cryptoPanicToken"` // empty -> mock news
	HTTPTimeout      time.Duration `json:"httpTimeout" yaml:"httpTimeout"`
	Coins            []string      `json:"coins" yaml:"coins"` // CoinGecko ids tracked by the dashboard
	PollInterval     time.Duration `json:"pollInterval" yaml:"pollInterval"`
	CacheTTL         time.Duration `json:"cacheTTL" yaml:"cacheTTL"`
}

// DefaultConfig returns default provider configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:  15 * time.Second,
		Coins:        []string{"bitcoin", "ethereum", "solana"},
		PollInterval: 30 * time.Second,
		CacheTTL:     25 * time.Second,
	}
}

// Provider describes one upstream dependency.
type Provider struct {
	Name     string
	Channel  string
	Interval time.Duration
	TTL      time.Duration
	Limits   ratelimit.Limits
	Breaker  breaker.Config
	Fetch    cache.FetchFunc
	// Split turns a fetch result into individual broadcast payloads, one
	// per symbol, so subscription filters apply per asset.
	Split func(value interface{}) []map[string]interface{}
}

var coinSymbols = map[string]string{
	"bitcoin":  "BTC",
	"ethereum": "ETH",
	"solana":   "SOL",
}

func symbolFor(coin string) string {
	if s, ok := coinSymbols[coin]; ok {
		return s
	}
	return coin
}

// Build assembles the provider set from configuration.
func Build(config Config) []*Provider {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	if len(config.Coins) == 0 {
		config.Coins = DefaultConfig().Coins
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}

	client := &http.Client{Timeout: config.HTTPTimeout}
	logger := utils.ProviderLogger

	prices := &Provider{
		Name:     "coingecko",
		Channel:  ChannelPrices,
		Interval: config.PollInterval,
		TTL:      config.CacheTTL,
		Limits:   ratelimit.Limits{PerMinute: 30, PerHour: 500},
		Breaker:  breaker.DefaultConfig(),
		Split:    splitBySymbolList,
	}
	if config.MockMode || config.CoinGeckoAPIKey == "" {
		logger.Info("coingecko: no API key, serving mock prices")
		prices.Fetch = mockPrices(config.Coins)
	} else {
		prices.Fetch = fetchPrices(client, config.CoinGeckoAPIKey, config.Coins)
	}

	defi := &Provider{
		Name:     "defillama",
		Channel:  ChannelDeFi,
		Interval: 2 * config.PollInterval,
		TTL:      2 * config.CacheTTL,
		Limits:   ratelimit.Limits{PerMinute: 20},
		Breaker:  breaker.DefaultConfig(),
		Split:    splitBySymbolList,
	}
	if config.MockMode {
		defi.Fetch = mockDeFi()
	} else {
		defi.Fetch = fetchDeFi(client)
	}

	news := &Provider{
		Name:     "cryptopanic",
		Channel:  ChannelNews,
		Interval: 4 * config.PollInterval,
		TTL:      4 * config.CacheTTL,
		Limits:   ratelimit.Limits{PerMinute: 10, PerDay: 2000},
		Breaker:  breaker.DefaultConfig(),
		Split:    splitBySymbolList,
	}
	if config.MockMode || config.CryptoPanicToken == "" {
		logger.Info("cryptopanic: no token, serving mock news")
		news.Fetch = mockNews()
	} else {
		news.Fetch = fetchNews(client, config.CryptoPanicToken)
	}

	sentiment := &Provider{
		Name:     "alternativeme",
		Channel:  ChannelSentiment,
		Interval: 8 * config.PollInterval,
		TTL:      8 * config.CacheTTL,
		Limits:   ratelimit.Limits{PerMinute: 5},
		Breaker:  breaker.DefaultConfig(),
		Split:    splitSingle,
	}
	if config.MockMode {
		sentiment.Fetch = mockSentiment()
	} else {
		sentiment.Fetch = fetchSentiment(client)
	}

	return []*Provider{prices, defi, news, sentiment}
}

// splitBySymbolList expects a fetch result of []map[string]interface{}.
func splitBySymbolList(value interface{}) []map[string]interface{} {
	payloads, ok := value.([]map[string]interface{})
	if !ok {
		return nil
	}
	return payloads
}

// splitSingle expects a single payload map.
func splitSingle(value interface{}) []map[string]interface{} {
	payload, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return []map[string]interface{}{payload}
}

// getJSON performs one upstream GET and classifies every failure, so callers
// up the stack can decide retryability from the error type alone.
func getJSON(ctx context.Context, client *http.Client, dependency, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return utils.WrapError(err, utils.ErrorTypeInternal, "BUILD_REQUEST", "building request for "+url, dependency)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return utils.WrapError(err, utils.ErrorTypeDependency, "HTTP_REQUEST", "request to "+url+" failed", dependency)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return utils.NewAppError(utils.ErrorTypeQuota, "UPSTREAM_QUOTA",
			fmt.Sprintf("status 429 from %s", url), dependency)
	case resp.StatusCode != http.StatusOK:
		return utils.WrapError(fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url),
			utils.ErrorTypeDependency, "UPSTREAM_STATUS", "upstream returned a non-OK status", dependency)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.WrapError(err, utils.ErrorTypeDependency, "DECODE_RESPONSE", "decoding response from "+url, dependency)
	}
	return nil
}

func fetchPrices(client *http.Client, apiKey string, coins []string) cache.FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		url := "https://pro-api.coingecko.com/api/v3/simple/price?vs_currencies=usd&include_24hr_change=true&ids="
		for i, coin := range coins {
			if i > 0 {
				url += ","
			}
			url += coin
		}

		var raw map[string]map[string]float64
		if err := getJSON(ctx, client, "coingecko", url, map[string]string{"x-cg-pro-api-key": apiKey}, &raw); err != nil {
			return nil, err
		}

		now := time.Now().UnixMilli()
		payloads := make([]map[string]interface{}, 0, len(raw))
		for coin, fields := range raw {
			payloads = append(payloads, map[string]interface{}{
				"symbol":    symbolFor(coin),
				"coin":      coin,
				"priceUsd":  fields["usd"],
				"change24h": fields["usd_24h_change"],
				"provider":  "coingecko",
				"timestamp": now,
			})
		}
		return payloads, nil
	}
}

func fetchDeFi(client *http.Client) cache.FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		var raw []struct {
			Name        string  `json:"name"`
			TokenSymbol string  `json:"tokenSymbol"`
			TVL         float64 `json:"tvl"`
		}
		if err := getJSON(ctx, client, "defillama", "https://api.llama.fi/v2/chains", nil, &raw); err != nil {
			return nil, err
		}

		now := time.Now().UnixMilli()
		limit := 10
		if len(raw) < limit {
			limit = len(raw)
		}
		payloads := make([]map[string]interface{}, 0, limit)
		for _, chain := range raw[:limit] {
			symbol := chain.TokenSymbol
			if symbol == "" {
				symbol = chain.Name
			}
			payloads = append(payloads, map[string]interface{}{
				"symbol":    symbol,
				"chain":     chain.Name,
				"tvlUsd":    chain.TVL,
				"provider":  "defillama",
				"timestamp": now,
			})
		}
		return payloads, nil
	}
}

func fetchNews(client *http.Client, token string) cache.FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		var raw struct {
			Results []struct {
				Title      string `json:"title"`
				URL        string `json:"url"`
				Currencies []struct {
					Code string `json:"code"`
				} `json:"currencies"`
			} `json:"results"`
		}
		url := "https://cryptopanic.com/api/v1/posts/?auth_token=" + token
		if err := getJSON(ctx, client, "cryptopanic", url, nil, &raw); err != nil {
			return nil, err
		}

		now := time.Now().UnixMilli()
		payloads := make([]map[string]interface{}, 0, len(raw.Results))
		for _, post := range raw.Results {
			symbol := ""
			if len(post.Currencies) > 0 {
				symbol = post.Currencies[0].Code
			}
			payloads = append(payloads, map[string]interface{}{
				"symbol":    symbol,
				"title":     post.Title,
				"url":       post.URL,
				"provider":  "cryptopanic",
				"timestamp": now,
			})
		}
		return payloads, nil
	}
}

func fetchSentiment(client *http.Client) cache.FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		var raw struct {
			Data []struct {
				Value          string `json:"value"`
				Classification string `json:"value_classification"`
			} `json:"data"`
		}
		if err := getJSON(ctx, client, "alternativeme", "https://api.alternative.me/fng/", nil, &raw); err != nil {
			return nil, err
		}
		if len(raw.Data) == 0 {
			return nil, utils.NewAppError(utils.ErrorTypeDependency, "EMPTY_RESPONSE",
				"empty fear & greed response", "alternativeme")
		}

		return map[string]interface{}{
			"index":          raw.Data[0].Value,
			"classification": raw.Data[0].Classification,
			"provider":       "alternativeme",
			"timestamp":      time.Now().UnixMilli(),
		}, nil
	}
}

// Mock generators: deterministic sine-walks keyed on wall-clock time, so
// consecutive polls move plausibly without any stored state.

func mockPrices(coins []string) cache.FetchFunc {
	base := map[string]float64{"bitcoin": 65000, "ethereum": 3400, "solana": 150}
	return func(ctx context.Context) (interface{}, error) {
		now := time.Now()
		phase := float64(now.Unix()%3600) / 3600 * 2 * math.Pi
		payloads := make([]map[string]interface{}, 0, len(coins))
		for i, coin := range coins {
			price, ok := base[coin]
			if !ok {
				price = 100
			}
			drift := math.Sin(phase + float64(i))
			payloads = append(payloads, map[string]interface{}{
				"symbol":    symbolFor(coin),
				"coin":      coin,
				"priceUsd":  price * (1 + 0.02*drift),
				"change24h": 2 * drift,
				"provider":  "mock",
				"timestamp": now.UnixMilli(),
			})
		}
		return payloads, nil
	}
}

func mockDeFi() cache.FetchFunc {
	chains := []struct {
		name   string
		symbol string
		tvl    float64
	}{
		{"Ethereum", "ETH", 55e9},
		{"Solana", "SOL", 9e9},
		{"Arbitrum", "ARB", 3e9},
	}
	return func(ctx context.Context) (interface{}, error) {
		now := time.Now()
		phase := float64(now.Unix()%3600) / 3600 * 2 * math.Pi
		payloads := make([]map[string]interface{}, 0, len(chains))
		for i, c := range chains {
			payloads = append(payloads, map[string]interface{}{
				"symbol":    c.symbol,
				"chain":     c.name,
				"tvlUsd":    c.tvl * (1 + 0.01*math.Sin(phase+float64(i))),
				"provider":  "mock",
				"timestamp": now.UnixMilli(),
			})
		}
		return payloads, nil
	}
}

func mockNews() cache.FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		now := time.Now()
		return []map[string]interface{}{
			{
				"symbol":    "BTC",
				"title":     "Bitcoin consolidates as funding rates normalize",
				"url":       "https://example.com/btc-consolidation",
				"provider":  "mock",
				"timestamp": now.UnixMilli(),
			},
			{
				"symbol":    "ETH",
				"title":     "Ethereum L2 activity hits new highs",
				"url":       "https://example.com/eth-l2",
				"provider":  "mock",
				"timestamp": now.UnixMilli(),
			},
		}, nil
	}
}

func mockSentiment() cache.FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		value := 40 + int(time.Now().Unix()/3600)%30
		classification := "Neutral"
		if value < 45 {
			classification = "Fear"
		} else if value > 60 {
			classification = "Greed"
		}
		return map[string]interface{}{
			"index":          fmt.Sprintf("%d", value),
			"classification": classification,
			"provider":       "mock",
			"timestamp":      time.Now().UnixMilli(),
		}, nil
	}
}
