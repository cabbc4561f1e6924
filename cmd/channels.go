package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"homedash/server"

	"github.com/urfave/cli/v2"
)

func channelsCmd() *cli.Command {
	return &cli.Command{
		Name:  "channels",
		Usage: "Manage feed subscriptions",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Subscribe to an RSS or Atom feed",
				Flags: []cli.Flag{
					databaseFlag(),
					connectTimeoutFlag(),
					&cli.StringFlag{Name: "name", Usage: "Display name of the channel"},
					&cli.StringFlag{Name: "url", Usage: "http or https url of the feed"},
				},
				Action: func(ctx *cli.Context) error {
					name, err := ask(ctx.String("name"), "Name:")
					if err != nil {
						return err
					}
					url, err := ask(ctx.String("url"), "Feed URL:")
					if err != nil {
						return err
					}
					if err := server.ValidateFeedURL(url); err != nil {
						return err
					}

					store, err := openStore(ctx)
					if err != nil {
						return err
					}
					defer store.Close()

					channel, err := store.CreateChannel(ctx.Context, name, url)
					if err != nil {
						return err
					}
					fmt.Println(channel.Id)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List feed subscriptions",
				Flags: []cli.Flag{
					databaseFlag(),
					connectTimeoutFlag(),
				},
				Action: func(ctx *cli.Context) error {
					store, err := openStore(ctx)
					if err != nil {
						return err
					}
					defer store.Close()

					channels, err := store.ListChannels(ctx.Context)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tURL")
					for _, c := range channels {
						fmt.Fprintf(w, "%s\t%s\t%s\n", c.Id, c.Name, c.Url)
					}
					return w.Flush()
				},
			},
		},
	}
}
