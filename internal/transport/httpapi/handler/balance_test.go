package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renlav/payledger/pkg/logger"
	"github.com/renlav/payledger/pkg/money"
)

type fakeBalanceCache struct {
	value string
	set   bool
	err   error
}

func (f *fakeBalanceCache) Get(ctx context.Context) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	return f.value, f.set, nil
}

func (f *fakeBalanceCache) Set(ctx context.Context, balance string) error {
	f.value = balance
	f.set = true
	return nil
}

func (f *fakeBalanceCache) Clear(ctx context.Context) error {
	f.value = ""
	f.set = false
	return nil
}

type fakeBalanceFetcher struct {
	balance string
	err     error
	calls   int
}

func (f *fakeBalanceFetcher) GetLocalBalance(ctx context.Context) (money.Amount, error) {
	f.calls++
	if f.err != nil {
		return money.Amount{}, f.err
	}
	return money.ParseAmount(f.balance)
}

func discardLogger() *logger.Logger {
	return logger.New("test", io.Discard)
}

func TestGetBalanceServesCache(t *testing.T) {
	cache := &fakeBalanceCache{value: "12345", set: true}
	ledger := &fakeBalanceFetcher{balance: "99999"}
	h := NewBalanceHandler(ledger, cache, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "12345", resp.Balance)
	assert.True(t, resp.Cached)
	assert.Zero(t, ledger.calls)
}

func TestGetBalanceFetchesAndCachesOnMiss(t *testing.T) {
	cache := &fakeBalanceCache{}
	ledger := &fakeBalanceFetcher{balance: "5000000000000"}
	h := NewBalanceHandler(ledger, cache, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "5000000000000", resp.Balance)
	assert.False(t, resp.Cached)
	assert.Equal(t, "5000000000000", cache.value)
}

func TestGetBalanceLedgerUnavailable(t *testing.T) {
	cache := &fakeBalanceCache{}
	ledger := &fakeBalanceFetcher{err: errors.New("connection refused")}
	h := NewBalanceHandler(ledger, cache, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetBalanceIgnoresCacheError(t *testing.T) {
	cache := &fakeBalanceCache{err: errors.New("redis down")}
	ledger := &fakeBalanceFetcher{balance: "42"}
	h := NewBalanceHandler(ledger, cache, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "42", resp.Balance)
}
