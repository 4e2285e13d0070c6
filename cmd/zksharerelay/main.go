// Command zksharerelay runs the realtime relay that joins the two parties of a
// share.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commandquery/zkshare/jtp"
	"github.com/commandquery/zkshare/records"
	"github.com/commandquery/zkshare/relay"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var Config struct {
	ListenAddr    string `split_words:"true" default:"127.0.0.1:8080"`
	DatabaseDSN   string `split_words:"true"`
	ChallengeSize int    `split_words:"true" default:"16"` // Incrementing by 1 *doubles* the work
	DrainSeconds  int64  `split_words:"true" default:"45"`
	LogJSON       bool   `split_words:"true" default:"false"`
	LogLevel      string `split_words:"true" default:"info"`
	SeedFile      string `split_words:"true"`
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Value: Config.ListenAddr,
			Usage: "address to listen on",
		},
		&cli.StringFlag{
			Name:  "database-dsn",
			Value: Config.DatabaseDSN,
			Usage: "PostgreSQL connection string; records are kept in memory when empty",
		},
		&cli.IntFlag{
			Name:  "challenge-size",
			Value: Config.ChallengeSize,
			Usage: "hashcash bits required to subscribe to a channel",
		},
		&cli.StringFlag{
			Name:  "seed-file",
			Value: Config.SeedFile,
			Usage: "JSON file of organizations and templates to load at startup",
		},
		&cli.BoolFlag{
			Name:  "log-json",
			Value: Config.LogJSON,
			Usage: "log in JSON format",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: Config.LogLevel,
			Usage: "log level (debug, info, warn, error)",
		},
		&cli.Int64Flag{
			Name:  "drain-seconds",
			Value: Config.DrainSeconds,
			Usage: "seconds to refuse new subscriptions before shutting down",
		},
	}
}

func setupLogger(logJSON bool, level string) (*logrus.Logger, error) {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	if logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log, nil
}

type store interface {
	records.Store
	records.OrganizationSaver
}

func openStore(ctx context.Context, dsn string, log *logrus.Logger) (store, func(), error) {
	if dsn == "" {
		log.Warn("no database configured; records are kept in memory")
		return records.NewMemoryStore(), func() {}, nil
	}

	pg, err := records.NewPGStore(ctx, dsn, log)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func seed(ctx context.Context, path string, s records.OrganizationSaver, log *logrus.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open seed file: %w", err)
	}
	defer f.Close()

	n, err := records.Seed(ctx, f, s)
	if err != nil {
		return err
	}

	log.WithField("organizations", n).Info("seed loaded")
	return nil
}

func run(cCtx *cli.Context) error {
	log, err := setupLogger(cCtx.Bool("log-json"), cCtx.String("log-level"))
	if err != nil {
		return err
	}
	jtp.SetLogger(log)

	ctx := cCtx.Context

	st, closeStore, err := openStore(ctx, cCtx.String("database-dsn"), log)
	if err != nil {
		return err
	}
	defer closeStore()

	if path := cCtx.String("seed-file"); path != "" {
		if err := seed(ctx, path, st, log); err != nil {
			return err
		}
	}

	cfg := &relay.Config{
		ListenAddr:               cCtx.String("listen-addr"),
		Log:                      log,
		ChallengeSize:            cCtx.Int("challenge-size"),
		DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
	}

	srv, err := relay.New(cfg, st)
	if err != nil {
		return err
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	srv.Shutdown()
	return nil
}

func main() {
	if err := envconfig.Process("zkshare", &Config); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:   "zksharerelay",
		Usage:  "relay encrypted shares between two parties without storing them",
		Flags:  flags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
