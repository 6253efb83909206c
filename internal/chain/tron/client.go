// Package tron реализует клиент сети TRON поверх REST API обозревателя
// (trongrid-совместимого). Переводы TRC20 запрашиваются списком с
// фильтром по контракту и временному окну в миллисекундах.
package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/metrics"
)

// USDT TRC20 использует фиксированные 6 знаков.
const usdtDecimals = 6

// Client клиент для чтения переводов TRC20 на кошелёк платформы.
type Client struct {
	apiURL        string
	walletAddress string
	contract      string
	pageLimit     int
	maxPages      int
	httpClient    *http.Client
	cb            *gobreaker.CircuitBreaker
	log           *slog.Logger
}

// transferItem элемент списка переводов в ответе обозревателя.
type transferItem struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

// transferList ответ обозревателя со списком переводов и курсором.
type transferList struct {
	Data []transferItem `json:"data"`
	Meta struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"meta"`
}

// New создаёт клиент TRON по настройкам из конфига.
func New(cfg config.TronChain, log *slog.Logger) *Client {
	c := &Client{
		apiURL:        cfg.APIURL,
		walletAddress: cfg.WalletAddress,
		contract:      cfg.USDTContract,
		pageLimit:     cfg.PageLimit,
		maxPages:      cfg.MaxPages,
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		log:           log,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tron-api",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// WalletAddress возвращает адрес приёма платежей в сети TRON.
func (c *Client) WalletAddress() string {
	return c.walletAddress
}

// RawAmount переводит центы в сырые единицы USDT TRC20.
func (c *Client) RawAmount(_ context.Context, amountMinor int64) (*big.Int, error) {
	return chain.RawFromMinor(amountMinor, usdtDecimals)
}

// Transfers возвращает входящие переводы USDT в окне [from, to].
// Страницы листаются по курсору fingerprint, количество страниц ограничено.
// Записи с временем вне запрошенного окна — несогласованность обозревателя,
// они пропускаются с записью в лог.
func (c *Client) Transfers(ctx context.Context, from, to time.Time) ([]chain.Transfer, error) {
	const op = "tron.Transfers"

	start := time.Now()
	defer func() {
		metrics.ChainScanDuration.WithLabelValues("tron").Observe(time.Since(start).Seconds())
	}()

	var result []chain.Transfer
	fingerprint := ""
	for page := 0; page < c.maxPages; page++ {
		list, err := c.fetchPage(ctx, from, to, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		for _, item := range list.Data {
			ts := time.UnixMilli(item.BlockTimestamp).UTC()
			if ts.Before(from) || ts.After(to) {
				c.log.Warn("explorer returned transfer outside requested window",
					sl.Op(op),
					slog.String("transaction_id", item.TransactionID),
					slog.Time("timestamp", ts))
				continue
			}
			value, ok := new(big.Int).SetString(item.Value, 10)
			if !ok {
				c.log.Warn("explorer returned malformed transfer value",
					sl.Op(op),
					slog.String("transaction_id", item.TransactionID),
					slog.String("value", item.Value))
				continue
			}
			result = append(result, chain.Transfer{
				TxID:      item.TransactionID,
				To:        item.To,
				Value:     value,
				Timestamp: ts,
			})
		}
		if list.Meta.Fingerprint == "" || len(list.Data) < c.pageLimit {
			break
		}
		fingerprint = list.Meta.Fingerprint
	}
	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, from, to time.Time, fingerprint string) (*transferList, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20", c.apiURL, c.walletAddress)

	params := url.Values{}
	params.Set("contract_address", c.contract)
	params.Set("only_to", "true")
	params.Set("min_timestamp", strconv.FormatInt(from.UnixMilli(), 10))
	params.Set("max_timestamp", strconv.FormatInt(to.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(c.pageLimit))
	if fingerprint != "" {
		params.Set("fingerprint", fingerprint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	body, err := c.cb.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status: %s", resp.Status)
		}
		var list transferList
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return nil, err
		}
		return &list, nil
	})
	if err != nil {
		return nil, err
	}
	return body.(*transferList), nil
}
