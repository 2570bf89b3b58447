// Command campaignctl manages campaigns, keyword materials and accounts in
// the bot's store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"mailbot/internal/app"
	"mailbot/internal/config"
	logx "mailbot/pkg/logx"
)

const usage = `usage: campaignctl [-config file] [-env file] <command> [flags]

commands:
  add-campaign -f def.yaml        create a campaign with its rules and schedule
  add-material -f def.yaml        store keyword material and print its deep link
  add-account -tg ID -status TAG  create or update an account
  list [-n limit]                 list campaigns
  deactivate -id ID               stop a campaign from firing
  activate -id ID                 resume a deactivated campaign
`

func main() {
	fs := flag.NewFlagSet("campaignctl", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	cfgPath := fs.String("config", "./config.yaml", "path to config (yaml or json)")
	envPath := fs.String("env", ".env", "optional dotenv file")
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *cfgPath, *envPath, fs.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "campaignctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath, envPath string, args []string, out io.Writer) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("WARN").With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	defer st.Close()

	c := &cli{store: st, out: out, linkBase: cfg.Keyword.LinkBase}
	return c.dispatch(ctx, args)
}
