package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"p2plend/cmd/internal/passphrase"
	"p2plend/native/bank"
	"p2plend/native/lending"
	"p2plend/services/lendingd/server"
	"p2plend/storage"
)

const (
	tokenCommand   = "token"
	mintCommand    = "mint"
	balanceCommand = "balance"
	marketCommand  = "market"

	defaultSecretEnv = "LENDINGD_JWT_SECRET"
	defaultDataDir   = "./data/lendingd"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case mintCommand:
		err = runMint(os.Args[2:], os.Stdout)
	case balanceCommand:
		err = runBalance(os.Args[2:], os.Stdout)
	case marketCommand:
		err = runMarket(os.Args[2:], os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: lendctl <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %-8s issue a bearer token for a caller address\n", tokenCommand)
	fmt.Fprintf(w, "  %-8s credit test balances in a stopped daemon's store\n", mintCommand)
	fmt.Fprintf(w, "  %-8s print an account balance from the store\n", balanceCommand)
	fmt.Fprintf(w, "  %-8s print the persisted market configuration\n", marketCommand)
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("sub", "", "Caller address to embed as the token subject")
	issuer := fs.String("issuer", "", "Issuer claim expected by lendingd")
	audience := fs.String("audience", "", "Audience claim expected by lendingd")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := passphrase.NewSource(*secretEnv, "jwt secret").Get()
	if err != nil {
		return err
	}
	token, err := server.IssueToken(secret, strings.TrimSpace(*subject), *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// runMint credits the ledger through the engine's faucet, acting as the
// market admin, so the market's assets, the amount bound and the escrow
// restriction all apply. LevelDB holds an exclusive lock, so the daemon must
// be stopped.
func runMint(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(mintCommand, flag.ContinueOnError)
	dataDir := fs.String("data-dir", defaultDataDir, "lendingd data directory")
	asset := fs.String("asset", "", "Asset ticker named by the market")
	to := fs.String("to", "", "Recipient address")
	amount := fs.String("amount", "", "Amount in base units")
	escrow := fs.String("escrow", lending.DefaultEscrowAccount, "Escrow account configured for lendingd")
	if err := fs.Parse(args); err != nil {
		return err
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(*amount), 10)
	if !ok {
		return fmt.Errorf("amount must be a base-10 integer")
	}
	db, err := storage.NewLevelDB(*dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine, err := lending.NewEngine(db, nil, lending.DefaultConfig())
	if err != nil {
		return err
	}
	engine.SetEscrowAccount(*escrow)
	market, err := engine.Market()
	if err != nil {
		return err
	}
	if err := engine.Mint(market.Admin, *asset, *to, value); err != nil {
		return err
	}
	balance, err := engine.Balance(*asset, *to)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s balance: %s\n", strings.TrimSpace(*to), strings.ToUpper(strings.TrimSpace(*asset)), balance)
	return nil
}

func runBalance(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(balanceCommand, flag.ContinueOnError)
	dataDir := fs.String("data-dir", defaultDataDir, "lendingd data directory")
	asset := fs.String("asset", "", "Asset ticker")
	account := fs.String("account", "", "Account address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(*dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	balance, err := bank.NewLedger(db).Balance(*asset, *account)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, balance.String())
	return nil
}

func runMarket(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(marketCommand, flag.ContinueOnError)
	dataDir := fs.String("data-dir", defaultDataDir, "lendingd data directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(*dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	engine, err := lending.NewEngine(db, nil, lending.DefaultConfig())
	if err != nil {
		return err
	}
	market, err := engine.Market()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(market)
}
