package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Sternrassler/creator-api-client/pkg/account"
	"github.com/Sternrassler/creator-api-client/pkg/pagination"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func refreshFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "refresh",
		Usage: "fetch from the API instead of the cache",
		Value: true,
	}
}

func registerLogin(flags *Flags, app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "login",
		Usage: "Authenticate and print the account profile",
		Action: func(ctx context.Context, c *cli.Command) error {
			rt := flags.Runtime
			if err := rt.Login(ctx); err != nil {
				return err
			}
			return writeJSON(c.Root().Writer, rt.Machine.Profile())
		},
	})
	return app
}

func registerSubscriptions(flags *Flags, app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "subscriptions",
		Usage: "List active subscriptions",
		Flags: []cli.Flag{
			refreshFlag(),
			&cli.BoolFlag{
				Name:  "extra-info",
				Usage: "merge each subscription with the full user profile (default: fetch.extra_info)",
			},
			&cli.StringSliceFlag{
				Name:  "identifier",
				Usage: "only check these users (id or username)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rt := flags.Runtime
			if err := rt.Login(ctx); err != nil {
				return err
			}
			extraInfo := rt.Config.Fetch.ExtraInfo
			if c.IsSet("extra-info") {
				extraInfo = c.Bool("extra-info")
			}
			subs, err := rt.Account.GetSubscriptions(ctx, account.SubscriptionOptions{
				Refresh:     c.Bool("refresh"),
				Identifiers: c.StringSlice("identifier"),
				ExtraInfo:   extraInfo,
			})
			if err != nil {
				if len(subs) == 0 {
					return err
				}
				log.Warn().Err(err).Int("records", len(subs)).Msg("Incomplete result")
			}
			return writeJSON(c.Root().Writer, subs)
		},
	})
	return app
}

func registerSubscription(flags *Flags, app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "subscription",
		Usage:     "Find one subscription by id or username",
		ArgsUsage: "<identifier>",
		Action: func(ctx context.Context, c *cli.Command) error {
			identifier := c.Args().First()
			if identifier == "" {
				return fmt.Errorf("identifier is required")
			}
			rt := flags.Runtime
			if err := rt.Login(ctx); err != nil {
				return err
			}
			sub, ok, err := rt.Account.GetSubscription(ctx, identifier)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no subscription to %s", identifier)
			}
			return writeJSON(c.Root().Writer, sub)
		},
	})
	return app
}

func registerChats(flags *Flags, app *cli.Command) *cli.Command {
	return registerCollection(flags, app, "chats", "List chat threads", func(ctx context.Context, a *account.Account, refresh bool) ([]pagination.Record, error) {
		return a.GetChats(ctx, refresh)
	})
}

func registerMassMessages(flags *Flags, app *cli.Command) *cli.Command {
	return registerCollection(flags, app, "mass-messages", "List mass message statistics", func(ctx context.Context, a *account.Account, refresh bool) ([]pagination.Record, error) {
		return a.GetMassMessages(ctx, refresh)
	})
}

func registerLists(flags *Flags, app *cli.Command) *cli.Command {
	return registerCollection(flags, app, "lists", "List user lists", func(ctx context.Context, a *account.Account, refresh bool) ([]pagination.Record, error) {
		return a.GetLists(ctx, refresh)
	})
}

func registerPaid(flags *Flags, app *cli.Command) *cli.Command {
	return registerCollection(flags, app, "paid", "List purchased content", func(ctx context.Context, a *account.Account, refresh bool) ([]pagination.Record, error) {
		paid, err := a.GetPaidContent(ctx, refresh)
		records := make([]pagination.Record, len(paid))
		for i, p := range paid {
			records[i] = p.Record
		}
		return records, err
	})
}

type collectionFunc func(ctx context.Context, a *account.Account, refresh bool) ([]pagination.Record, error)

func registerCollection(flags *Flags, app *cli.Command, name, usage string, fetch collectionFunc) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{refreshFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			rt := flags.Runtime
			if err := rt.Login(ctx); err != nil {
				return err
			}
			records, err := fetch(ctx, rt.Account, c.Bool("refresh"))
			if err != nil {
				if len(records) == 0 {
					return err
				}
				log.Warn().Err(err).Str("resource", name).Int("records", len(records)).Msg("Incomplete result")
			}
			return writeRecords(c.Root().Writer, records)
		},
	})
	return app
}

func registerListUsers(flags *Flags, app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "list-users",
		Usage:     "List the members of a user list",
		ArgsUsage: "<list-id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			listID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid list id %q", c.Args().First())
			}
			rt := flags.Runtime
			if err := rt.Login(ctx); err != nil {
				return err
			}
			records, err := rt.Account.GetListUsers(ctx, listID)
			if err != nil {
				return err
			}
			return writeRecords(c.Root().Writer, records)
		},
	})
	return app
}

func registerUser(flags *Flags, app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "user",
		Usage:     "Show a user profile",
		ArgsUsage: "<id or username>",
		Action: func(ctx context.Context, c *cli.Command) error {
			identifier := c.Args().First()
			if identifier == "" {
				return fmt.Errorf("identifier is required")
			}
			rt := flags.Runtime
			if err := rt.Login(ctx); err != nil {
				return err
			}
			u, err := rt.Account.GetUser(ctx, identifier)
			if err != nil {
				return err
			}
			return writeJSON(c.Root().Writer, u)
		},
	})
	return app
}

func writeRecords(w io.Writer, records []pagination.Record) error {
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = r.Raw
	}
	return writeJSON(w, raws)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
