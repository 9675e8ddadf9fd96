package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/models"
)

// Precision carries per-symbol display precision.
type Precision struct {
	PriceDecimals    int32
	QuantityDecimals int32
}

// ClientConfig configures the REST candle client.
type ClientConfig struct {
	Name      string
	BaseURL   string
	Timeout   time.Duration
	Precision map[string]Precision
}

// Client fetches candles from a Binance-style klines REST endpoint. It wraps
// a resty client with bounded timeout and retry on 5xx.
type Client struct {
	name      string
	http      *resty.Client
	precision map[string]Precision
	logger    *logrus.Logger
}

// Ensure Client implements Provider at compile time.
var _ Provider = (*Client)(nil)

// NewClient creates a REST candle client.
func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		name:      cfg.Name,
		http:      httpClient,
		precision: cfg.Precision,
		logger:    logger,
	}
}

// Name returns the exchange name.
func (c *Client) Name() string { return c.name }

// GetCandles fetches up to limit candles with timestamp >= since.
func (c *Client) GetCandles(ctx context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("get candles: invalid interval %q", interval)
	}

	var raw [][]json.RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"interval":  string(interval),
			"startTime": strconv.FormatInt(since.UnixMilli(), 10),
			"limit":     strconv.Itoa(limit),
		}).
		SetResult(&raw).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("get candles %s %s: %w", symbol, interval, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get candles %s %s: status %d: %s", symbol, interval, resp.StatusCode(), resp.String())
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, row := range raw {
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("get candles %s %s: %w", symbol, interval, err)
		}
		candles = append(candles, candle)
	}

	// The API contract is ascending order; enforce it rather than trust it.
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

// parseKline decodes one klines row: [openTimeMs, "open", "high", "low",
// "close", "volume", ...]. Trailing fields are ignored.
func parseKline(row []json.RawMessage) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}

	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return models.Candle{}, fmt.Errorf("kline open time: %w", err)
	}

	fields := make([]float64, 5)
	for i := 0; i < 5; i++ {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return models.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		fields[i] = v
	}

	candle := models.Candle{
		Timestamp: time.UnixMilli(openTime).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}
	if err := candle.Validate(); err != nil {
		return models.Candle{}, err
	}
	return candle, nil
}

// FormatPrice renders a price at the symbol's configured precision.
func (c *Client) FormatPrice(symbol string, price float64) string {
	decimals := int32(8)
	if p, ok := c.precision[symbol]; ok {
		decimals = p.PriceDecimals
	}
	return decimal.NewFromFloat(price).Round(decimals).StringFixed(decimals)
}

// FormatQuantity renders a quantity at the symbol's configured precision.
func (c *Client) FormatQuantity(symbol string, qty float64) string {
	decimals := int32(8)
	if p, ok := c.precision[symbol]; ok {
		decimals = p.QuantityDecimals
	}
	return decimal.NewFromFloat(qty).Round(decimals).StringFixed(decimals)
}
