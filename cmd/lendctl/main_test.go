package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"p2plend/native/lending"
	"p2plend/storage"
)

// initMarket persists a market naming USDC and XLM in a fresh store.
func initMarket(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	engine, err := lending.NewEngine(db, nil, lending.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, engine.Initialize("admin", "USDC", "XLM", "oracle", 0))
	return dir
}

func TestMintAndBalance(t *testing.T) {
	dir := initMarket(t)
	var out bytes.Buffer

	require.NoError(t, runMint([]string{"-data-dir", dir, "-asset", "usdc", "-to", "alice", "-amount", "1000"}, &out))
	require.Contains(t, out.String(), "alice USDC balance: 1000")

	out.Reset()
	require.NoError(t, runMint([]string{"-data-dir", dir, "-asset", "USDC", "-to", "alice", "-amount", "5"}, &out))
	out.Reset()
	require.NoError(t, runBalance([]string{"-data-dir", dir, "-asset", "USDC", "-account", "alice"}, &out))
	require.Equal(t, "1005", strings.TrimSpace(out.String()))
}

func TestMintRejectsBadAmount(t *testing.T) {
	dir := initMarket(t)
	require.Error(t, runMint([]string{"-data-dir", dir, "-asset", "USDC", "-to", "alice", "-amount", "1e3"}, &bytes.Buffer{}))
	require.ErrorIs(t, runMint([]string{"-data-dir", dir, "-asset", "USDC", "-to", "alice", "-amount", "0"}, &bytes.Buffer{}), lending.ErrInvalidInput)

	tooLarge := "170141183460469231731687303715884105728" // 2^127
	require.ErrorIs(t, runMint([]string{"-data-dir", dir, "-asset", "USDC", "-to", "alice", "-amount", tooLarge}, &bytes.Buffer{}), lending.ErrArithmeticOverflow)
}

func TestMintFollowsMarketRules(t *testing.T) {
	uninitialized := filepath.Join(t.TempDir(), "store")
	require.ErrorIs(t, runMint([]string{"-data-dir", uninitialized, "-asset", "USDC", "-to", "alice", "-amount", "1"}, &bytes.Buffer{}), lending.ErrNotInitialized)

	dir := initMarket(t)
	require.ErrorIs(t, runMint([]string{"-data-dir", dir, "-asset", "BTC", "-to", "alice", "-amount", "1"}, &bytes.Buffer{}), lending.ErrInvalidInput)
	require.ErrorIs(t, runMint([]string{"-data-dir", dir, "-asset", "USDC", "-to", lending.DefaultEscrowAccount, "-amount", "1"}, &bytes.Buffer{}), lending.ErrUnauthorized)
	require.ErrorIs(t, runMint([]string{"-data-dir", dir, "-escrow", "vault", "-asset", "USDC", "-to", "Vault", "-amount", "1"}, &bytes.Buffer{}), lending.ErrUnauthorized)

	var out bytes.Buffer
	require.NoError(t, runBalance([]string{"-data-dir", dir, "-asset", "USDC", "-account", lending.DefaultEscrowAccount}, &out))
	require.Equal(t, "0", strings.TrimSpace(out.String()))
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv("LENDCTL_SECRET", "secret")
	var out bytes.Buffer
	require.NoError(t, runToken([]string{"-sub", "alice", "-secret-env", "LENDCTL_SECRET"}, &out))
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "."), 3)

	require.Error(t, runToken([]string{"-secret-env", "LENDCTL_SECRET"}, &bytes.Buffer{}))
}

func TestMarketNotInitialized(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	require.Error(t, runMarket([]string{"-data-dir", dir}, &bytes.Buffer{}))
}
