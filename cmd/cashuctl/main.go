// Command cashuctl is a command-line Cashu wallet driving a MultiMintWallet
// against one or more mints.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/wallet"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage/sql"
)

const (
	dbFlag      = "d"
	mintFlag    = "m"
	timeoutFlag = "t"
	wordsFlag   = "w"

	valueFlag     = "value"
	requestFlag   = "request"
	keysetIdFlag  = "keysetid"
	quoteFlag     = "quote"
	memoFlag      = "memo"
	infoFlag      = "info"
	skipSplitFlag = "skip-split"
)

func main() {
	godotenv.Load() //nolint:errcheck

	app := &cli.App{
		Name:  "cashuctl",
		Usage: "multi-mint cashu wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: dbFlag, Value: defaultDbPath(), Usage: "db path; a .sqlite suffix selects the SQL backend, otherwise bbolt"},
			&cli.StringFlag{Name: mintFlag, Usage: "mint url to operate against"},
			&cli.DurationFlag{Name: timeoutFlag, Value: 30 * time.Second, Usage: "per-request timeout"},
			&cli.BoolFlag{Name: "v", Usage: "verbose"},
			&cli.BoolFlag{Name: "vv", Usage: "more verbose"},
			&cli.BoolFlag{Name: "vvv", Usage: "most verbose"},
			&cli.StringFlag{Name: wordsFlag, Usage: "mnemonic words, space-separated (quoted)"},
		},
		Commands: []*cli.Command{
			showCmd,
			recvCmd,
			sendCmd,
			mintCmd,
			meltCmd,
			restoreCmd,
			fixCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDbPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "./wallet-data"
	}
	return filepath.Join(homedir, ".cashuctl")
}

func verbosity(ctx *cli.Context) int {
	switch {
	case ctx.Bool("vvv"):
		return 3
	case ctx.Bool("vv"):
		return 2
	case ctx.Bool("v"):
		return 1
	default:
		return 0
	}
}

func logf(ctx *cli.Context, level int, format string, args ...any) {
	if verbosity(ctx) >= level {
		log.Printf(format, args...)
	}
}

func logLevel(ctx *cli.Context) wallet.LogLevel {
	switch verbosity(ctx) {
	case 0:
		return wallet.Disable
	case 1:
		return wallet.Info
	default:
		return wallet.Debug
	}
}

// openDB opens the store at path, picking the SQL backend when path ends in
// ".sqlite" and bbolt otherwise.
func openDB(path string) (storage.WalletDB, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".sqlite") {
		return sql.Init(path)
	}
	return storage.InitBolt(path)
}

// openWallet opens (or creates) the configured store and wraps it in a
// MultiMintWallet, reconnecting to every mint the store already knows about.
func openWallet(ctx *cli.Context) (*wallet.MultiMintWallet, error) {
	db, err := openDB(ctx.String(dbFlag))
	if err != nil {
		return nil, fmt.Errorf("error opening wallet store: %v", err)
	}

	mw, err := wallet.NewMultiMintWallet(db, ctx.String(wordsFlag))
	if err != nil {
		return nil, fmt.Errorf("error loading wallet: %v", err)
	}
	mw.SetLogger(wallet.NewLogger(os.Stderr, logLevel(ctx)))

	if mintURL := ctx.String(mintFlag); mintURL != "" {
		if err := mw.AddMint(ctx.Context, mintURL, false, nil, false); err != nil && err != wallet.ErrMintUrlUnmatched {
			logf(ctx, 1, "note: %v", err)
		}
	}

	return mw, nil
}

var showCmd = &cli.Command{
	Name:  "show",
	Usage: "print balances by mint",
	Action: func(ctx *cli.Context) error {
		mw, err := openWallet(ctx)
		if err != nil {
			return err
		}
		balances := mw.Balances()
		var total uint64
		for _, b := range balances {
			fmt.Printf("%s\t%d %s\n", b.Mint, b.Amount, b.Unit)
			total += b.Amount
		}
		fmt.Printf("\ntotal: %d sat\n", total)
		return nil
	},
}

var recvCmd = &cli.Command{
	Name:      "recv",
	Usage:     "receive one or more tokens",
	ArgsUsage: "<tokens...>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() == 0 {
			return fmt.Errorf("specify at least one token string")
		}
		mw, err := openWallet(ctx)
		if err != nil {
			return err
		}

		cctx, cancel := context.WithTimeout(context.Background(), ctx.Duration(timeoutFlag))
		defer cancel()

		var total uint64
		for _, tok := range ctx.Args().Slice() {
			amount, err := mw.ReceiveTokens(cctx, tok)
			if err != nil {
				return fmt.Errorf("error receiving token: %v", err)
			}
			total += amount
		}
		fmt.Printf("received %d sat\n", total)
		return nil
	},
}

var sendCmd = &cli.Command{
	Name:  "send",
	Usage: "create a token for the given amount",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: valueFlag, Required: true, Usage: "amount in sat"},
		&cli.StringFlag{Name: memoFlag, Usage: "memo attached to the token"},
		&cli.StringFlag{Name: infoFlag, Usage: "opaque local note stored on the transaction only"},
		&cli.BoolFlag{Name: skipSplitFlag, Usage: "accept an exact-match proof set as-is instead of forcing a swap"},
	},
	Action: func(ctx *cli.Context) error {
		mw, err := openWallet(ctx)
		if err != nil {
			return err
		}

		cctx, cancel := context.WithTimeout(context.Background(), ctx.Duration(timeoutFlag))
		defer cancel()

		token, err := mw.SendTokens(cctx, ctx.String(mintFlag), ctx.Uint64(valueFlag),
			ctx.String(memoFlag), cashu.Sat, ctx.String(infoFlag), ctx.Bool(skipSplitFlag))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var mintCmd = &cli.Command{
	Name:  "mint",
	Usage: "request a mint quote, or redeem one once paid with --quote",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: valueFlag, Required: true, Usage: "amount in sat"},
		&cli.StringFlag{Name: quoteFlag, Usage: "redeem a previously requested quote id once its invoice is paid"},
	},
	Action: func(ctx *cli.Context) error {
		mw, err := openWallet(ctx)
		if err != nil {
			return err
		}
		mintURL := ctx.String(mintFlag)
		if mintURL == "" {
			return fmt.Errorf("specify -m mint url")
		}

		cctx, cancel := context.WithTimeout(context.Background(), ctx.Duration(timeoutFlag))
		defer cancel()

		if quoteId := ctx.String(quoteFlag); quoteId != "" {
			amount, err := mw.MintTokens(cctx, mintURL, quoteId, ctx.Uint64(valueFlag), cashu.Sat)
			if err != nil {
				return err
			}
			fmt.Printf("minted %d sat\n", amount)
			return nil
		}

		quote, err := mw.RequestMint(cctx, mintURL, ctx.Uint64(valueFlag), cashu.Sat)
		if err != nil {
			return err
		}
		fmt.Printf("invoice: %s\n\npay it, then run:\n  cashuctl mint --value %d --quote %s\n",
			quote.PaymentRequest, ctx.Uint64(valueFlag), quote.QuoteId)
		return nil
	},
}

var meltCmd = &cli.Command{
	Name:  "melt",
	Usage: "pay a lightning invoice from wallet balance",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: requestFlag, Required: true, Usage: "bolt11 payment request"},
	},
	Action: func(ctx *cli.Context) error {
		mw, err := openWallet(ctx)
		if err != nil {
			return err
		}
		mintURL := ctx.String(mintFlag)
		if mintURL == "" {
			return fmt.Errorf("specify -m mint url")
		}

		cctx, cancel := context.WithTimeout(context.Background(), ctx.Duration(timeoutFlag))
		defer cancel()

		paid, preimage, err := mw.Melt(cctx, mintURL, ctx.String(requestFlag), 0, cashu.Sat)
		if err != nil {
			return err
		}
		fmt.Printf("paid: %v\n", paid)
		if preimage != "" {
			fmt.Printf("preimage: %s\n", preimage)
		}
		return nil
	},
}

var restoreCmd = &cli.Command{
	Name:  "restore",
	Usage: "recover proofs from the mnemonic's deterministic secrets",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: keysetIdFlag, Usage: "restore a single keyset id instead of every known keyset"},
	},
	Action: func(ctx *cli.Context) error {
		mnemonic := ctx.String(wordsFlag)
		if mnemonic == "" {
			fmt.Print("enter mnemonic: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("error reading mnemonic: %v", err)
			}
			mnemonic = strings.TrimSpace(line)
		}

		db, err := openDB(ctx.String(dbFlag))
		if err != nil {
			return fmt.Errorf("error opening wallet store: %v", err)
		}

		mw, err := wallet.NewMultiMintWallet(db, mnemonic)
		if err != nil {
			return err
		}

		mintURL := ctx.String(mintFlag)
		if mintURL == "" {
			return fmt.Errorf("specify -m mint url to restore from")
		}
		if err := mw.AddMint(ctx.Context, mintURL, true, nil, false); err != nil {
			return err
		}

		cctx, cancel := context.WithTimeout(context.Background(), ctx.Duration(timeoutFlag))
		defer cancel()

		restored, err := mw.Restore(cctx, mintURL, ctx.String(keysetIdFlag))
		if err != nil {
			return err
		}
		fmt.Printf("restored %d sat\n", restored)
		return nil
	},
}

var fixCmd = &cli.Command{
	Name:  "fix",
	Usage: "reconcile pending transactions and drop any proofs the mint reports spent",
	Action: func(ctx *cli.Context) error {
		mw, err := openWallet(ctx)
		if err != nil {
			return err
		}

		cctx, cancel := context.WithTimeout(context.Background(), ctx.Duration(timeoutFlag))
		defer cancel()

		updated, total, err := mw.CheckPendings(cctx)
		if err != nil {
			return fmt.Errorf("error reconciling pending transactions: %v", err)
		}

		for _, b := range mw.Balances() {
			if err := mw.CheckProofsInDatabase(cctx, b.Mint); err != nil {
				return fmt.Errorf("error checking proofs for mint '%s': %v", b.Mint, err)
			}
		}

		fmt.Printf("wallet state reconciled: %d of %d pending transactions updated\n", updated, total)
		return nil
	},
}
