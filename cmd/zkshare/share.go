package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/expiry"
	"github.com/commandquery/zkshare/notify"
	"github.com/commandquery/zkshare/records"
	"github.com/commandquery/zkshare/session"
	"github.com/commandquery/zkshare/wallet"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func shareFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "field",
			Usage: "only share this wallet field (repeatable)",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	}
}

func linkCommand() *cli.Command {
	return &cli.Command{
		Name:  "link",
		Usage: "share wallet values through a one-time link",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "mail",
				Usage: "e-mail the link to this address",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "your name, shown in the e-mail",
			},
		}, shareFlags()...),
		Action: cmdLink,
	}
}

func codeCommand() *cli.Command {
	return &cli.Command{
		Name:  "code",
		Usage: "share an organization's template through a short code",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "org",
				Usage:    "organization slug",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "template",
				Usage: "template ID; may be omitted when the organization has one template",
			},
		}, shareFlags()...),
		Action: cmdCode,
	}
}

// selectFields picks the wallet values to send and asks for confirmation.
func selectFields(cCtx *cli.Context, fields []zkshare.ShareField) ([]zkshare.ShareField, error) {
	if only := cCtx.StringSlice("field"); len(only) > 0 {
		want := make(map[string]bool, len(only))
		for _, slug := range only {
			want[slug] = true
		}

		var picked []zkshare.ShareField
		for _, f := range fields {
			if want[f.Slug] {
				picked = append(picked, f)
			}
		}
		fields = picked
	}

	if len(fields) == 0 {
		return nil, errors.New("nothing to share; add values with `zkshare wallet set`")
	}

	fmt.Println("These values will be shared:")
	printPreview(fields)

	if !cCtx.Bool("yes") && !Confirm("Share them?") {
		return nil, errors.New("cancelled")
	}

	return fields, nil
}

func walletData(e *env) (map[string]string, error) {
	w, err := e.openWallet()
	if err != nil {
		return nil, err
	}
	defer w.Close()
	return w.All()
}

// deliver waits for the receiver and sends the payload.
func deliver(ctx context.Context, sender *session.Sender, payload *zkshare.SharePayload) error {
	ctx, cancel := context.WithDeadline(ctx, sender.Deadline().ExpiresAt())
	defer cancel()

	watch, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		countdown(watch, "waiting for the receiver", sender.Deadline())
	}()

	err := sender.WaitForPeer(ctx)
	stop()
	<-done

	if errors.Is(err, context.DeadlineExceeded) {
		err = zkshare.ErrExpired
	}
	if err != nil {
		return err
	}

	if err := sender.Send(ctx, payload); err != nil {
		return err
	}

	fmt.Printf("sent %d fields\n", len(payload.Fields))
	return nil
}

func cmdLink(cCtx *cli.Context) error {
	e, err := newEnv(cCtx)
	if err != nil {
		return err
	}

	data, err := walletData(e)
	if err != nil {
		return err
	}

	fields, err := selectFields(cCtx, wallet.Filled(data))
	if err != nil {
		return err
	}

	cfg, err := e.session()
	if err != nil {
		return err
	}

	sender := session.NewSender(cfg)
	defer sender.Close()

	ctx := cCtx.Context

	link, err := sender.GenerateLink(ctx, e.public)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n\nexpires in %s\n", link.URL, expiry.FormatCountdown(sender.Remaining()))

	if to := cCtx.String("mail"); to != "" {
		mailer, err := notify.NewMailer(mailConfig(), e.log)
		if err != nil {
			return err
		}
		if err := mailer.SendLink(ctx, to, cCtx.String("name"), link); err != nil {
			return err
		}
		fmt.Printf("mailed to %s\n", to)
	}

	return deliver(ctx, sender, &zkshare.SharePayload{Fields: fields})
}

// resolveTemplate picks the template named by id, or the only active one.
func resolveTemplate(org *records.Organization, id string) (*records.Template, error) {
	if id != "" {
		tid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid template id: %w", err)
		}
		t, ok := org.Template(tid)
		if !ok {
			return nil, fmt.Errorf("%s has no template %s", org.Slug, id)
		}
		return t, nil
	}

	switch len(org.Templates) {
	case 0:
		return nil, fmt.Errorf("%s has no active templates", org.Slug)
	case 1:
		return &org.Templates[0], nil
	}

	var names []string
	for _, t := range org.Templates {
		names = append(names, fmt.Sprintf("  %s  %s", t.ID, t.Name))
	}
	return nil, fmt.Errorf("choose a template with --template:\n%s", strings.Join(names, "\n"))
}

func cmdCode(cCtx *cli.Context) error {
	e, err := newEnv(cCtx)
	if err != nil {
		return err
	}

	ctx := cCtx.Context

	org, err := e.records().Organization(ctx, cCtx.String("org"))
	if err != nil {
		return err
	}

	tmpl, err := resolveTemplate(org, cCtx.String("template"))
	if err != nil {
		return err
	}

	data, err := walletData(e)
	if err != nil {
		return err
	}

	fields, err := wallet.FieldsForTemplate(data, tmpl)
	var missing *wallet.MissingFieldsError
	if errors.As(err, &missing) {
		fmt.Fprintf(os.Stderr, "%s needs values you have not stored:\n", tmpl.Name)
		for _, slug := range missing.Slugs {
			fmt.Fprintf(os.Stderr, "  zkshare wallet set %s\n", slug)
		}
	}
	if err != nil {
		return err
	}

	fields, err = selectFields(cCtx, fields)
	if err != nil {
		return err
	}

	cfg, err := e.session()
	if err != nil {
		return err
	}

	sender := session.NewSender(cfg)
	defer sender.Close()

	code, err := sender.GenerateCode(ctx, org.Slug)
	if err != nil {
		return err
	}

	fmt.Printf("\n    %s\n\ngive this code to %s\n", code, org.Name)

	return deliver(ctx, sender, &zkshare.SharePayload{
		Meta: zkshare.ShareMeta{
			OrgSlug:      org.Slug,
			OrgName:      org.Name,
			TemplateID:   tmpl.ID.String(),
			TemplateName: tmpl.Name,
		},
		Fields: fields,
	})
}
