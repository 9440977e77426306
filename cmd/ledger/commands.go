package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"ledger/internal/api"
	"ledger/internal/app"
	"ledger/internal/core"
	"ledger/internal/session"
)

type command struct {
	app    *app.App
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	today  func() core.Date
}

func (c *command) dispatch(ctx context.Context, args []string) error {
	name, rest := args[0], args[1:]
	switch name {
	case "login":
		return c.login(ctx, rest)
	case "register":
		return c.register(ctx, rest)
	case "logout":
		return c.logout(ctx)
	case "whoami":
		return c.whoami()
	case "tx":
		return c.tx(ctx, rest)
	case "dashboard":
		return c.dashboard(ctx, rest)
	case "budgets":
		return c.budgets(ctx, rest)
	case "export":
		return c.export(ctx, rest)
	case "import":
		return c.importDrafts(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (c *command) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

// credentials parses -email and -password, reading the password from the
// first line of stdin when the flag is absent.
func (c *command) credentials(name string, args []string) (email, password string, err error) {
	fs := c.flags(name)
	fs.StringVar(&email, "email", "", "account email")
	fs.StringVar(&password, "password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if password == "" {
		line, err := bufio.NewReader(c.in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	return email, password, nil
}

func (c *command) login(ctx context.Context, args []string) error {
	email, password, err := c.credentials("login", args)
	if err != nil {
		return err
	}
	sess, err := c.app.Auth.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Logged in as %s\n", sess.User.Email)
	return nil
}

func (c *command) register(ctx context.Context, args []string) error {
	email, password, err := c.credentials("register", args)
	if err != nil {
		return err
	}
	user, err := c.app.Auth.Register(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Registered %s (%s)\nRun 'ledger login' to sign in.\n", user.Email, user.ID)
	return nil
}

func (c *command) logout(ctx context.Context) error {
	c.app.Auth.Logout(ctx)
	fmt.Fprintln(c.out, "Logged out")
	return nil
}

func (c *command) whoami() error {
	user, ok := c.app.Auth.CurrentUser()
	if !ok {
		return &api.UnauthenticatedError{Message: "not signed in"}
	}
	tw := newTable(c.out)
	fmt.Fprintf(tw, "Email\t%s\n", user.Email)
	fmt.Fprintf(tw, "User ID\t%s\n", user.ID)
	if !user.CreatedAt.IsZero() {
		fmt.Fprintf(tw, "Member since\t%s\n", user.CreatedAt.Format(time.DateOnly))
	}
	if claims, err := session.ParseClaims(c.app.Session.Token()); err == nil && !claims.ExpiresAt.IsZero() {
		fmt.Fprintf(tw, "Session expires\t%s\n", claims.ExpiresAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
