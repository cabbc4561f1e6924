package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"homedash/models"
	"homedash/server"

	"github.com/urfave/cli/v2"
)

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Manage the devices watched by the liveness monitor",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a device",
				Description: `Adds a device to the roster. It starts out offline and is picked
up by the next liveness sweep. Fields not given as flags are asked for.`,
				Flags: []cli.Flag{
					databaseFlag(),
					connectTimeoutFlag(),
					&cli.StringFlag{Name: "name", Usage: "Display name of the device"},
					&cli.StringFlag{Name: "ip", Usage: "IPv4 or IPv6 address to probe"},
					&cli.StringFlag{Name: "mac", Usage: "Hardware address, e.g. aa:bb:cc:dd:ee:ff"},
				},
				Action: func(ctx *cli.Context) error {
					name, err := ask(ctx.String("name"), "Name:")
					if err != nil {
						return err
					}
					ip, err := ask(ctx.String("ip"), "IP address:")
					if err != nil {
						return err
					}
					mac, err := ask(ctx.String("mac"), "MAC address:")
					if err != nil {
						return err
					}
					if err := server.ValidateDevice(name, ip, mac); err != nil {
						return err
					}

					store, err := openStore(ctx)
					if err != nil {
						return err
					}
					defer store.Close()

					device, err := store.CreateDevice(ctx.Context, name, ip, mac)
					if err != nil {
						return err
					}
					fmt.Println(device.Id)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List registered devices",
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

					devices, err := store.ListDevices(ctx.Context)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tIP\tMAC\tSTATUS")
					for _, d := range devices {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Id, d.Name, d.Ip, d.Mac, models.StatusString(d.Status))
					}
					return w.Flush()
				},
			},
		},
	}
}
