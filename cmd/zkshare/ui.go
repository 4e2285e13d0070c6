package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/expiry"
	"github.com/commandquery/zkshare/wallet"
	"golang.org/x/term"
)

func Confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}

	fmt.Printf("%s [y/n] ", prompt)

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return false
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	var b [1]byte
	if _, err = os.Stdin.Read(b[:]); err != nil {
		return false
	}

	fmt.Println() // newline after keypress

	return b[0] == 'y' || b[0] == 'Y'
}

// ReadSecret reads a line without echo when stdin is a terminal.
func ReadSecret(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		var line string
		_, err := fmt.Fscanln(os.Stdin, &line)
		return strings.TrimSpace(line), err
	}

	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()

	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(secret)), nil
}

// countdown writes the time left on one status line until ctx is done.
func countdown(ctx context.Context, label string, d expiry.Deadline) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}

	d.Watch(ctx, time.Second, func(remaining time.Duration) {
		fmt.Fprintf(os.Stderr, "\r%s %s ", label, expiry.FormatCountdown(remaining))
	})
	fmt.Fprint(os.Stderr, "\r\033[K")
}

func printPreview(fields []zkshare.ShareField) {
	for _, f := range fields {
		fmt.Printf("  %-22s %s\n", f.Label, wallet.Mask(f.Value))
	}
}

func printPayload(p *zkshare.SharePayload, d expiry.Deadline) {
	if p.Meta.OrgName != "" || p.Meta.TemplateName != "" {
		fmt.Printf("%s %s\n\n", p.Meta.OrgName, p.Meta.TemplateName)
	}

	for _, f := range p.Fields {
		label := f.Label
		if label == "" {
			label = wallet.Label(f.Slug)
		}
		fmt.Printf("  %-22s %s\n", label, wallet.FormatValue(f.Slug, f.Value))
	}

	fmt.Printf("\nvisible for %s\n", d.Countdown())
}
