package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

func TestBuildReturnsAllProviders(t *testing.T) {
	provs := Build(Config{MockMode: true})

	if len(provs) != 4 {
		t.Fatalf("expected 4 providers, got %d", len(provs))
	}

	channels := map[string]bool{}
	for _, p := range provs {
		channels[p.Channel] = true
		if p.Fetch == nil {
			t.Errorf("%s: missing fetch function", p.Name)
		}
		if p.Split == nil {
			t.Errorf("%s: missing split function", p.Name)
		}
		if p.Interval <= 0 || p.TTL <= 0 {
			t.Errorf("%s: unset interval or TTL", p.Name)
		}
		if p.TTL >= p.Interval {
			t.Errorf("%s: TTL %v must expire before the next poll at %v", p.Name, p.TTL, p.Interval)
		}
	}

	for _, want := range []string{ChannelPrices, ChannelDeFi, ChannelNews, ChannelSentiment} {
		if !channels[want] {
			t.Errorf("missing provider for channel %s", want)
		}
	}
}

func TestMissingCredentialsFallBackToMocks(t *testing.T) {
	provs := Build(Config{}) // no keys, mock mode off

	byName := map[string]*Provider{}
	for _, p := range provs {
		byName[p.Name] = p
	}

	for _, name := range []string{"coingecko", "cryptopanic"} {
		value, err := byName[name].Fetch(context.Background())
		if err != nil {
			t.Fatalf("%s: mock fetch failed: %v", name, err)
		}
		if len(byName[name].Split(value)) == 0 {
			t.Errorf("%s: mock fetch produced no payloads", name)
		}
	}
}

func TestMockPayloadsCarryRequiredFields(t *testing.T) {
	provs := Build(Config{MockMode: true})

	for _, p := range provs {
		value, err := p.Fetch(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", p.Name, err)
		}

		payloads := p.Split(value)
		if len(payloads) == 0 {
			t.Fatalf("%s: no payloads", p.Name)
		}
		for _, payload := range payloads {
			if payload["provider"] == "" || payload["provider"] == nil {
				t.Errorf("%s: payload missing provider field", p.Name)
			}
			if payload["timestamp"] == nil {
				t.Errorf("%s: payload missing timestamp field", p.Name)
			}
		}
	}
}

func TestPricePayloadsSplitPerSymbol(t *testing.T) {
	provs := Build(Config{MockMode: true, Coins: []string{"bitcoin", "ethereum"}})

	prices := provs[0]
	value, err := prices.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payloads := prices.Split(value)
	if len(payloads) != 2 {
		t.Fatalf("expected one payload per coin, got %d", len(payloads))
	}

	symbols := map[interface{}]bool{}
	for _, payload := range payloads {
		symbols[payload["symbol"]] = true
	}
	if !symbols["BTC"] || !symbols["ETH"] {
		t.Errorf("expected BTC and ETH payloads, got %v", symbols)
	}
}

func TestGetJSONClassifiesUpstreamFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quota":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/garbage":
			w.Write([]byte("{not json"))
		}
	}))
	defer srv.Close()

	client := srv.Client()
	var out map[string]interface{}

	err := getJSON(context.Background(), client, "coingecko", srv.URL+"/quota", nil, &out)
	if got := utils.GetErrorType(err); got != utils.ErrorTypeQuota {
		t.Errorf("429 must classify as %s, got %s", utils.ErrorTypeQuota, got)
	}
	if utils.IsRetryableError(err) {
		t.Error("quota exhaustion must not be retryable")
	}

	err = getJSON(context.Background(), client, "coingecko", srv.URL+"/down", nil, &out)
	if got := utils.GetErrorType(err); got != utils.ErrorTypeDependency {
		t.Errorf("5xx must classify as %s, got %s", utils.ErrorTypeDependency, got)
	}
	if !utils.IsRetryableError(err) {
		t.Error("upstream 5xx must be retryable")
	}

	err = getJSON(context.Background(), client, "coingecko", srv.URL+"/garbage", nil, &out)
	if got := utils.GetErrorType(err); got != utils.ErrorTypeDependency {
		t.Errorf("decode failure must classify as %s, got %s", utils.ErrorTypeDependency, got)
	}

	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		t.Fatal("expected a structured error")
	}
	if appErr.Dependency != "coingecko" {
		t.Errorf("expected dependency coingecko, got %q", appErr.Dependency)
	}
}

func TestGetJSONClassifiesTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing is listening anymore

	var out map[string]interface{}
	err := getJSON(context.Background(), http.DefaultClient, "defillama", url, nil, &out)
	if got := utils.GetErrorType(err); got != utils.ErrorTypeDependency {
		t.Errorf("transport failure must classify as %s, got %s", utils.ErrorTypeDependency, got)
	}
	if !utils.IsRetryableError(err) {
		t.Error("transport failures must be retryable")
	}
}

func TestSplitHandlesUnexpectedShapes(t *testing.T) {
	if got := splitBySymbolList("not a list"); got != nil {
		t.Errorf("expected nil for wrong shape, got %v", got)
	}
	if got := splitSingle([]string{"wrong"}); got != nil {
		t.Errorf("expected nil for wrong shape, got %v", got)
	}
	if got := splitSingle(map[string]interface{}{"a": 1}); len(got) != 1 {
		t.Errorf("expected single payload, got %v", got)
	}
}
