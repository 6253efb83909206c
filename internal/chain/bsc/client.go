// Package bsc реализует клиент сети BSC поверх JSON-RPC узла.
//
// RPC-слой не умеет фильтровать события по времени, поэтому временное
// окно переводится в приблизительный диапазон блоков по среднему
// интервалу блока, а диапазон сканируется чанками фиксированного размера
// от старых блоков к новым.
package bsc

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/metrics"
)

// Сигнатуры контракта BEP20.
var (
	transferTopic    = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	decimalsSelector = crypto.Keccak256([]byte("decimals()"))[:4]
)

// backend подмножество ethclient.Client, используемое клиентом.
// Выделено в интерфейс для подмены в тестах.
type backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Client клиент для чтения переводов BEP20 на кошелёк платформы.
type Client struct {
	eth              backend
	walletAddress    string
	wallet           common.Address
	contract         common.Address
	blockInterval    time.Duration
	chunkSize        uint64
	chunkRetries     uint64
	fallbackDecimals int32
	log              *slog.Logger

	mu       sync.Mutex
	decCache *int32 // закешированный результат decimals()
}

// New создаёт клиент BSC, подключаясь к RPC-узлу из конфига.
func New(cfg config.BscChain, log *slog.Logger) (*Client, error) {
	const op = "bsc.New"
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return newWithBackend(cfg, eth, log), nil
}

func newWithBackend(cfg config.BscChain, eth backend, log *slog.Logger) *Client {
	return &Client{
		eth:              eth,
		walletAddress:    cfg.WalletAddress,
		wallet:           common.HexToAddress(cfg.WalletAddress),
		contract:         common.HexToAddress(cfg.USDTContract),
		blockInterval:    cfg.BlockInterval,
		chunkSize:        cfg.ChunkSize,
		chunkRetries:     cfg.ChunkRetries,
		fallbackDecimals: cfg.FallbackDecimals,
		log:              log,
	}
}

// Close закрывает соединение с RPC-узлом.
func (c *Client) Close() {
	c.eth.Close()
}

// WalletAddress возвращает адрес приёма платежей в сети BSC.
func (c *Client) WalletAddress() string {
	return c.walletAddress
}

// RawAmount переводит центы в сырые единицы токена, используя decimals
// контракта. При недоступности контракта используется запасное значение
// из конфига.
func (c *Client) RawAmount(ctx context.Context, amountMinor int64) (*big.Int, error) {
	return chain.RawFromMinor(amountMinor, c.decimals(ctx))
}

// decimals возвращает decimals контракта USDT, кешируя результат.
func (c *Client) decimals(ctx context.Context) int32 {
	const op = "bsc.decimals"

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decCache != nil {
		return *c.decCache
	}

	ret, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: decimalsSelector,
	}, nil)
	if err != nil || len(ret) == 0 {
		if err == nil {
			err = fmt.Errorf("empty decimals() response")
		}
		c.log.Warn("failed to query token decimals, using fallback",
			sl.Op(op), sl.Err(err), slog.Int("fallback", int(c.fallbackDecimals)))
		return c.fallbackDecimals
	}
	d := int32(new(big.Int).SetBytes(ret).Int64())
	c.decCache = &d
	return d
}

// Transfers возвращает входящие переводы USDT в окне [from, to].
//
// Окно переводится в диапазон блоков по среднему интервалу блока.
// Каждый чанк запрашивается с повторами и экспоненциальной задержкой;
// если чанк исчерпал повторы, попытка сверки прерывается целиком —
// следующий запуск начнёт сканирование заново.
func (c *Client) Transfers(ctx context.Context, from, to time.Time) ([]chain.Transfer, error) {
	const op = "bsc.Transfers"

	scanStart := time.Now()
	defer func() {
		metrics.ChainScanDuration.WithLabelValues("bsc").Observe(time.Since(scanStart).Seconds())
	}()

	var latest uint64
	err := c.withRetry(ctx, func() error {
		var err error
		latest, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: block number: %w", op, err)
	}

	now := time.Now().UTC()
	fromBlock := c.blockAt(latest, now, from)
	toBlock := c.blockAt(latest, now, to)
	if fromBlock > toBlock {
		return nil, nil
	}

	headers := make(map[uint64]time.Time)
	var result []chain.Transfer
	for start := fromBlock; start <= toBlock; start += c.chunkSize {
		end := start + c.chunkSize - 1
		if end > toBlock {
			end = toBlock
		}

		var logs []types.Log
		err := c.withRetry(ctx, func() error {
			var err error
			logs, err = c.eth.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(start),
				ToBlock:   new(big.Int).SetUint64(end),
				Addresses: []common.Address{c.contract},
				Topics: [][]common.Hash{
					{transferTopic},
					nil,
					{common.BytesToHash(common.LeftPadBytes(c.wallet.Bytes(), 32))},
				},
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s: chunk [%d, %d]: %w", op, start, end, err)
		}

		for _, lg := range logs {
			ts, err := c.blockTime(ctx, headers, lg.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("%s: block %d header: %w", op, lg.BlockNumber, err)
			}
			result = append(result, chain.Transfer{
				TxID:      lg.TxHash.Hex(),
				To:        c.walletAddress,
				Value:     new(big.Int).SetBytes(lg.Data),
				Timestamp: ts,
			})
		}
	}
	return result, nil
}

// blockAt оценивает номер блока на момент t по среднему интервалу блока.
func (c *Client) blockAt(latest uint64, now, t time.Time) uint64 {
	if !t.Before(now) {
		return latest
	}
	back := uint64(now.Sub(t) / c.blockInterval)
	if back >= latest {
		return 0
	}
	return latest - back
}

func (c *Client) blockTime(ctx context.Context, cache map[uint64]time.Time, number uint64) (time.Time, error) {
	if ts, ok := cache[number]; ok {
		return ts, nil
	}
	var header *types.Header
	err := c.withRetry(ctx, func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	cache[number] = ts
	return ts, nil
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.chunkRetries), ctx)
	return backoff.Retry(fn, bo)
}
