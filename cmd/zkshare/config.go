package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/commandquery/zkshare/notify"
	"github.com/commandquery/zkshare/records"
	"github.com/commandquery/zkshare/session"
	"github.com/commandquery/zkshare/transport/ws"
	"github.com/commandquery/zkshare/wallet"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var Config struct {
	RelayURL        string `split_words:"true" default:"http://127.0.0.1:8080"`
	PublicURL       string `split_words:"true" default:"https://zkshare.app"`
	Wallet          string `split_words:"true" default:"keyring"` // keyring or badger
	WalletPath      string `split_words:"true"`
	Profile         string `split_words:"true" default:"default"`
	SMTPHost        string `envconfig:"SMTP_HOST"`
	SMTPPort        int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername    string `envconfig:"SMTP_USERNAME"`
	SMTPPassword    string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom        string `envconfig:"SMTP_FROM"`
	SMTPHeaderKey   string `envconfig:"SMTP_HEADER_KEY"`
	SMTPHeaderValue string `envconfig:"SMTP_HEADER_VALUE"`
	LogLevel        string `split_words:"true" default:"warn"`
}

// mailConfig is the SMTP relay used by "link --mail".
func mailConfig() notify.Config {
	return notify.Config{
		Host:        Config.SMTPHost,
		Port:        Config.SMTPPort,
		Username:    Config.SMTPUsername,
		Password:    Config.SMTPPassword,
		From:        Config.SMTPFrom,
		HeaderKey:   Config.SMTPHeaderKey,
		HeaderValue: Config.SMTPHeaderValue,
	}
}

func initConfig() error {
	if err := envconfig.Process("zkshare", &Config); err != nil {
		return err
	}

	Config.RelayURL = strings.TrimSuffix(Config.RelayURL, "/")

	if Config.WalletPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		Config.WalletPath = filepath.Join(dir, "zkshare", "wallet")
	}

	return nil
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "relay",
			Value: Config.RelayURL,
			Usage: "relay URL",
		},
		&cli.StringFlag{
			Name:  "public-url",
			Value: Config.PublicURL,
			Usage: "base URL of share links",
		},
		&cli.StringFlag{
			Name:  "wallet",
			Value: Config.Wallet,
			Usage: "where wallet values are kept: keyring or badger",
		},
		&cli.StringFlag{
			Name:  "wallet-path",
			Value: Config.WalletPath,
			Usage: "badger wallet directory",
		},
		&cli.StringFlag{
			Name:  "profile",
			Value: Config.Profile,
			Usage: "wallet profile in the platform keyring",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: Config.LogLevel,
			Usage: "log level (debug, info, warn, error)",
		},
	}
}

// env is what every command needs, built from the global flags.
type env struct {
	log    *logrus.Logger
	relay  string
	public string
	cCtx   *cli.Context
}

func newEnv(cCtx *cli.Context) (*env, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(cCtx.String("log-level"))
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	return &env{
		log:    log,
		relay:  strings.TrimSuffix(cCtx.String("relay"), "/"),
		public: cCtx.String("public-url"),
		cCtx:   cCtx,
	}, nil
}

func (e *env) openWallet() (wallet.Store, error) {
	switch kind := e.cCtx.String("wallet"); kind {
	case "keyring":
		return wallet.NewKeyringStore(e.cCtx.String("profile")), nil
	case "badger":
		path := e.cCtx.String("wallet-path")
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("unable to create wallet directory: %w", err)
		}
		return wallet.OpenBadgerStore(path, nil)
	default:
		return nil, fmt.Errorf("unknown wallet %q; use keyring or badger", kind)
	}
}

func (e *env) records() *records.Client {
	return records.NewClient(e.relay + "/api")
}

func (e *env) session() (session.Config, error) {
	transport, err := ws.New(e.relay, e.log)
	if err != nil {
		return session.Config{}, err
	}

	return session.Config{
		Transport: transport,
		Log:       e.log,
	}, nil
}
