package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/expiry"
	"github.com/commandquery/zkshare/session"
	"github.com/urfave/cli/v2"
)

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Usage:     "open a share link",
		ArgsUsage: "<link>",
		Action:    cmdView,
	}
}

func receiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "receive",
		Usage:     "receive a short-code share for an organization",
		ArgsUsage: "[code]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "org",
				Usage:    "organization slug",
				Required: true,
			},
		},
		Action: cmdReceive,
	}
}

// await waits for the payload for as long as the receiver's window allows.
func await(ctx context.Context, receiver *session.Receiver) (*zkshare.SharePayload, error) {
	ctx, cancel := context.WithDeadline(ctx, receiver.Deadline().ExpiresAt())
	defer cancel()

	watch, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		countdown(watch, "waiting for the share", receiver.Deadline())
	}()

	payload, err := receiver.Wait(ctx)
	stop()
	<-done

	if errors.Is(err, context.DeadlineExceeded) {
		err = zkshare.ErrExpired
	}
	return payload, err
}

func cmdView(cCtx *cli.Context) error {
	link := cCtx.Args().First()
	if link == "" {
		return errors.New("usage: zkshare view <link>")
	}

	e, err := newEnv(cCtx)
	if err != nil {
		return err
	}

	cfg, err := e.session()
	if err != nil {
		return err
	}

	receiver := session.NewReceiver(cfg, nil)
	defer receiver.Close()

	if err := receiver.OpenLink(cCtx.Context, link); err != nil {
		return err
	}

	payload, err := await(cCtx.Context, receiver)
	if err != nil {
		return err
	}

	printPayload(payload, receiver.Deadline())
	return nil
}

func cmdReceive(cCtx *cli.Context) error {
	e, err := newEnv(cCtx)
	if err != nil {
		return err
	}

	ctx := cCtx.Context
	client := e.records()

	org, err := client.Organization(ctx, cCtx.String("org"))
	if err != nil {
		return err
	}

	code := cCtx.Args().First()
	if code == "" {
		if code, err = ReadSecret("Code: "); err != nil {
			return err
		}
	}

	cfg, err := e.session()
	if err != nil {
		return err
	}

	receiver := session.NewReceiver(cfg, client)
	defer receiver.Close()

	if err := receiver.ListenCode(ctx, org, code); err != nil {
		return err
	}

	fmt.Printf("listening for %s (%s)\n", org.Name, expiry.FormatCountdown(receiver.Remaining()))

	payload, err := await(ctx, receiver)
	if err != nil {
		return err
	}

	printPayload(payload, receiver.Deadline())
	return nil
}
