package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"mailbot/internal/campaign"
	"mailbot/internal/storage"
)

type ctlStore interface {
	CreateCampaign(ctx context.Context, c campaign.Campaign, sc campaign.Schedule) (int64, int64, error)
	PutMaterial(ctx context.Context, kw string, payload []byte, policy storage.LinkPolicy) (int64, error)
	UpsertAccount(ctx context.Context, tgID int64, username, status string) (int64, error)
	ListCampaigns(ctx context.Context, limit int) ([]storage.CampaignSummary, error)
	SetCampaignActive(ctx context.Context, id int64, active bool) error
}

type cli struct {
	store    ctlStore
	out      io.Writer
	linkBase string
	now      func() time.Time
	readFile func(string) ([]byte, error)
}

func (c *cli) clock() time.Time {
	if c.now != nil {
		return c.now().UTC()
	}
	return time.Now().UTC()
}

func (c *cli) read(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("-f is required")
	}
	if c.readFile != nil {
		return c.readFile(path)
	}
	return os.ReadFile(path)
}

func (c *cli) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "add-campaign":
		return c.addCampaign(ctx, rest)
	case "add-material":
		return c.addMaterial(ctx, rest)
	case "add-account":
		return c.addAccount(ctx, rest)
	case "list":
		return c.list(ctx, rest)
	case "deactivate":
		return c.setActive(ctx, "deactivate", false, rest)
	case "activate":
		return c.setActive(ctx, "activate", true, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (c *cli) addCampaign(ctx context.Context, args []string) error {
	fs := newFlags("add-campaign")
	file := fs.String("f", "", "campaign definition (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := c.read(*file)
	if err != nil {
		return err
	}
	camp, sc, err := decodeCampaign(data, c.clock())
	if err != nil {
		return err
	}
	cid, sid, err := c.store.CreateCampaign(ctx, camp, sc)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	fmt.Fprintf(c.out, "campaign %d created (schedule %d, %s, next due %s)\n",
		cid, sid, sc.Kind, sc.NextDue.Format(time.RFC3339))
	return nil
}

func (c *cli) addMaterial(ctx context.Context, args []string) error {
	fs := newFlags("add-material")
	file := fs.String("f", "", "material definition (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := c.read(*file)
	if err != nil {
		return err
	}
	kw, raw, policy, err := decodeMaterial(data, c.clock())
	if err != nil {
		return err
	}
	if _, err := c.store.PutMaterial(ctx, kw, raw, policy); err != nil {
		return fmt.Errorf("store material: %w", err)
	}
	fmt.Fprintf(c.out, "material %q stored\n%s\n", kw, deepLink(c.linkBase, kw))
	return nil
}

func (c *cli) addAccount(ctx context.Context, args []string) error {
	fs := newFlags("add-account")
	tg := fs.Int64("tg", 0, "telegram user id")
	status := fs.String("status", "", "status tag")
	username := fs.String("username", "", "telegram username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tg <= 0 {
		return errors.New("-tg must be a positive telegram id")
	}
	id, err := c.store.UpsertAccount(ctx, *tg, strings.TrimPrefix(*username, "@"), strings.TrimSpace(*status))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	fmt.Fprintf(c.out, "account %d saved (tg %d)\n", id, *tg)
	return nil
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := newFlags("list")
	limit := fs.Int("n", 100, "max campaigns")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rows, err := c.store.ListCampaigns(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tACTIVE\tKIND\tRULES\tNEXT DUE")
	for _, r := range rows {
		next := "-"
		if r.Scheduled {
			next = r.NextDue.UTC().Format(time.RFC3339)
		}
		kind := r.Kind
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%d\t%s\n", r.ID, r.Title, r.Active, kind, r.Rules, next)
	}
	return tw.Flush()
}

func (c *cli) setActive(ctx context.Context, name string, active bool, args []string) error {
	fs := newFlags(name)
	id := fs.Int64("id", 0, "campaign id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("-id is required")
	}
	if err := c.store.SetCampaignActive(ctx, *id, active); err != nil {
		return fmt.Errorf("%s %d: %w", name, *id, err)
	}
	fmt.Fprintf(c.out, "campaign %d %sd\n", *id, name)
	return nil
}
