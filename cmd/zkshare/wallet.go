package main

import (
	"errors"
	"fmt"

	"github.com/commandquery/zkshare/wallet"
	"github.com/urfave/cli/v2"
)

func walletCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "manage the values kept on this device",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "store a value; prompts for it when omitted",
				ArgsUsage: "<slug> [value]",
				Action:    cmdWalletSet,
			},
			{
				Name:      "get",
				Usage:     "print a value",
				ArgsUsage: "<slug>",
				Action:    cmdWalletGet,
			},
			{
				Name:   "ls",
				Usage:  "list stored values, masked",
				Action: cmdWalletLs,
			},
			{
				Name:      "rm",
				Usage:     "delete a value",
				ArgsUsage: "<slug>",
				Action:    cmdWalletRm,
			},
		},
	}
}

func withWallet(cCtx *cli.Context, fn func(wallet.Store) error) error {
	e, err := newEnv(cCtx)
	if err != nil {
		return err
	}

	w, err := e.openWallet()
	if err != nil {
		return err
	}
	defer w.Close()

	return fn(w)
}

func cmdWalletSet(cCtx *cli.Context) error {
	slug := cCtx.Args().First()
	if slug == "" {
		return errors.New("usage: zkshare wallet set <slug> [value]")
	}

	value := cCtx.Args().Get(1)
	if value == "" {
		var err error
		if value, err = ReadSecret(wallet.Label(slug) + ": "); err != nil {
			return err
		}
	}

	return withWallet(cCtx, func(w wallet.Store) error {
		return w.Set(slug, value)
	})
}

func cmdWalletGet(cCtx *cli.Context) error {
	slug := cCtx.Args().First()
	return withWallet(cCtx, func(w wallet.Store) error {
		v, ok, err := w.Get(slug)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not set", slug)
		}
		fmt.Println(wallet.FormatValue(slug, v))
		return nil
	})
}

func cmdWalletLs(cCtx *cli.Context) error {
	return withWallet(cCtx, func(w wallet.Store) error {
		data, err := w.All()
		if err != nil {
			return err
		}

		fields := wallet.Filled(data)
		if len(fields) == 0 {
			fmt.Println("wallet is empty")
			return nil
		}

		for _, f := range fields {
			fmt.Printf("  %-16s %-22s %s\n", f.Slug, f.Label, wallet.Mask(f.Value))
		}
		return nil
	})
}

func cmdWalletRm(cCtx *cli.Context) error {
	slug := cCtx.Args().First()
	return withWallet(cCtx, func(w wallet.Store) error {
		return w.Delete(slug)
	})
}
