// Package pricefeed предоставляет клиент курсов криптовалют CoinGecko с кешем и резервными ценами.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultBaseURL — адрес публичного API CoinGecko.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// DefaultCoins сопоставляет тикеры идентификаторам монет CoinGecko.
var DefaultCoins = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"BNB":   "binancecoin",
	"ADA":   "cardano",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"SHIB":  "shiba-inu",
}

// ErrUnknownSymbol возвращается, если цена тикера неизвестна ни в кеше, ни в резервной таблице.
var ErrUnknownSymbol = errors.New("unknown crypto symbol")

// Price — курс одной монеты в валюте котировки.
type Price struct {
	ID          string
	Symbol      string
	Name        string
	Current     decimal.Decimal
	Change24h   float64
	MarketCap   decimal.Decimal
	Volume      decimal.Decimal
	LastUpdated time.Time
}

// Snapshot — состояние кеша курсов.
// Stale означает, что последнее обновление не удалось и отдаются старые или резервные цены.
type Snapshot struct {
	Prices    []Price
	UpdatedAt time.Time
	Stale     bool
}

// coinMarket описывает элемент ответа /coins/markets.
type coinMarket struct {
	ID                       string          `json:"id"`
	Symbol                   string          `json:"symbol"`
	Name                     string          `json:"name"`
	CurrentPrice             decimal.Decimal `json:"current_price"`
	PriceChangePercentage24h *float64        `json:"price_change_percentage_24h"`
	MarketCap                decimal.Decimal `json:"market_cap"`
	TotalVolume              decimal.Decimal `json:"total_volume"`
	LastUpdated              time.Time       `json:"last_updated"`
}

// Client инкапсулирует HTTP-взаимодействие с CoinGecko и хранит последние курсы.
type Client struct {
	baseURL    string
	currency   string
	coins      map[string]string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.RWMutex
	prices    map[string]Price
	updatedAt time.Time
	stale     bool
	retryAt   time.Time
}

// NewClient создаёт клиент курсов для указанного адреса API и валюты котировки.
func NewClient(baseURL, currency string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if currency == "" {
		currency = "inr"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: strings.ToLower(currency),
		coins:    DefaultCoins,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Refresh запрашивает свежие курсы. При ошибке кеш помечается устаревшим,
// а если он пуст — заполняется резервной таблицей. Ошибка возвращается для журнала.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.now().Before(c.retryAt) {
		if len(c.prices) == 0 {
			c.prices = fallbackPrices(c.now())
			c.updatedAt = c.now()
			c.stale = true
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	prices, retryAfter, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if retryAfter > 0 {
		c.retryAt = c.now().Add(retryAfter)
	}

	if err != nil {
		c.stale = true
		if len(c.prices) == 0 {
			c.prices = fallbackPrices(c.now())
			c.updatedAt = c.now()
		}
		c.logger.Warn("price feed unavailable, serving cached prices", zap.Error(err))
		return err
	}

	c.prices = prices
	c.updatedAt = c.now()
	c.stale = false
	return nil
}

func (c *Client) fetch(ctx context.Context) (map[string]Price, time.Duration, error) {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	ids := make([]string, 0, len(c.coins))
	for _, id := range c.coins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("ids", strings.Join(ids, ","))
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(len(ids)))
	q.Set("page", "1")
	q.Set("sparkline", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/coins/markets?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, retryAfter, fmt.Errorf("rate limited by price api")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var markets []coinMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	if len(markets) == 0 {
		return nil, 0, fmt.Errorf("empty market list")
	}

	prices := make(map[string]Price, len(markets))
	for _, m := range markets {
		p := Price{
			ID:          m.ID,
			Symbol:      strings.ToUpper(m.Symbol),
			Name:        m.Name,
			Current:     m.CurrentPrice,
			MarketCap:   m.MarketCap,
			Volume:      m.TotalVolume,
			LastUpdated: m.LastUpdated,
		}
		if m.PriceChangePercentage24h != nil {
			p.Change24h = *m.PriceChangePercentage24h
		}
		prices[p.Symbol] = p
	}

	return prices, 0, nil
}

// Price возвращает текущий курс тикера. Пустой кеш заполняется при первом обращении.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.ensureLoaded(ctx)

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	p, ok := c.prices[symbol]
	c.mu.RUnlock()
	if ok && p.Current.IsPositive() {
		return p.Current, nil
	}

	if fb, ok := fallbackPrices(c.now())[symbol]; ok {
		return fb.Current, nil
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// Snapshot возвращает все курсы, отсортированные по капитализации.
func (c *Client) Snapshot(ctx context.Context) Snapshot {
	c.ensureLoaded(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Prices:    make([]Price, 0, len(c.prices)),
		UpdatedAt: c.updatedAt,
		Stale:     c.stale,
	}
	for _, p := range c.prices {
		s.Prices = append(s.Prices, p)
	}
	sort.Slice(s.Prices, func(i, j int) bool {
		if !s.Prices[i].MarketCap.Equal(s.Prices[j].MarketCap) {
			return s.Prices[i].MarketCap.GreaterThan(s.Prices[j].MarketCap)
		}
		return s.Prices[i].Symbol < s.Prices[j].Symbol
	})
	return s
}

func (c *Client) ensureLoaded(ctx context.Context) {
	c.mu.RLock()
	empty := len(c.prices) == 0
	c.mu.RUnlock()

	if empty {
		_ = c.Refresh(ctx)
	}
}

// fallbackPrices возвращает статические курсы в рупиях.
func fallbackPrices(now time.Time) map[string]Price {
	return map[string]Price{
		"BTC": {ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin",
			Current: decimal.NewFromInt(3500000), Change24h: 2.5, LastUpdated: now},
		"ETH": {ID: "ethereum", Symbol: "ETH", Name: "Ethereum",
			Current: decimal.NewFromInt(280000), Change24h: 1.8, LastUpdated: now},
		"USDT": {ID: "tether", Symbol: "USDT", Name: "Tether",
			Current: decimal.NewFromInt(85), Change24h: 0.1, LastUpdated: now},
	}
}
