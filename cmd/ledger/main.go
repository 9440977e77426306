// Command ledger is the terminal client of the finance API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"ledger/internal/api"
	"ledger/internal/app"
	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	exitOK              = 0
	exitFailure         = 1
	exitUsage           = 2
	exitUnauthenticated = 3
)

var errUsage = errors.New("usage")

const usage = `usage: ledger <command> [flags]

commands:
  login      -email E [-password P]   sign in (password read from stdin when omitted)
  register   -email E [-password P]   create an account
  logout                              forget the stored session
  whoami                              show the signed-in user
  tx list    [-type] [-category] [-from] [-to] [-search] [-skip] [-limit] [-json]
  tx get     ID [-json]
  tx add     -amount A [-type] [-category] [-date] [-desc] [-json]
  tx update  ID [-amount] [-type] [-category] [-date] [-desc] [-clear-desc]
  tx delete  ID
  dashboard  [-period] [-from -to] [-json]
  budgets    list | create [-data JSON]
  export     xlsx | pdf | sheets [-period] [-o PATH]
  import     [-file PATH]             queue transaction drafts for the worker
`

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogJSON, log.ComponentCLI)

	ctx, stop := cli.SignalContext()
	code := run(ctx, cfg, logger, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, args []string, in io.Reader, out, errOut io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(errOut, usage)
		return exitUsage
	}

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitFailure
	}
	defer a.Close()

	c := &command{app: a, in: in, out: out, errOut: errOut, today: core.Today}
	return exitCode(c.dispatch(ctx, args), errOut)
}

func exitCode(err error, errOut io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		fmt.Fprint(errOut, usage)
		return exitUsage
	case errors.Is(err, api.ErrUnauthenticated):
		fmt.Fprintf(errOut, "error: %s\nrun 'ledger login' to sign in\n", api.Message(err, "not signed in"))
		return exitUnauthenticated
	default:
		fmt.Fprintf(errOut, "error: %s\n", api.Message(err, err.Error()))
		return exitFailure
	}
}
