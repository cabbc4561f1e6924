package cmd

import (
	"context"
	"fmt"

	"homedash/config"
	"homedash/models"
	"homedash/server"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func importCmd() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import devices and channels from a TOML file",
		Description: `Reads a roster file with [[devices]] and [[channels]] tables and
inserts every entry that is not registered yet. Devices are matched on their
ip address, channels on their url.`,
		Flags: []cli.Flag{
			databaseFlag(),
			connectTimeoutFlag(),
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/roster.toml",
				Usage:   "Path to the roster file",
				EnvVars: []string{"HOMEDASH_ROSTER"},
			},
		},
		Action: func(ctx *cli.Context) error {
			roster, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			devices, channels, err := importRoster(ctx.Context, store, roster)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"devices":  devices,
				"channels": channels,
			}).Info("Roster imported")
			return nil
		},
	}
}

type rosterStore interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	CreateDevice(ctx context.Context, name, ip, mac string) (models.Device, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	CreateChannel(ctx context.Context, name, url string) (models.Channel, error)
}

// importRoster inserts the roster entries that are not registered yet and
// returns how many devices and channels were added
func importRoster(ctx context.Context, store rosterStore, roster *config.TomlConfig) (int, int, error) {
	existingDevices, err := store.ListDevices(ctx)
	if err != nil {
		return 0, 0, err
	}
	knownIps := lo.KeyBy(existingDevices, func(d models.Device) string { return d.Ip })

	devices := 0
	for _, d := range roster.Devices {
		if _, ok := knownIps[d.Ip]; ok {
			log.WithFields(log.Fields{"name": d.Name, "ip": d.Ip}).Info("Device already registered, skipping")
			continue
		}
		if err := server.ValidateDevice(d.Name, d.Ip, d.Mac); err != nil {
			return devices, 0, fmt.Errorf("device %s: %w", d.Name, err)
		}
		device, err := store.CreateDevice(ctx, d.Name, d.Ip, d.Mac)
		if err != nil {
			return devices, 0, err
		}
		knownIps[device.Ip] = device
		devices++
	}

	existingChannels, err := store.ListChannels(ctx)
	if err != nil {
		return devices, 0, err
	}
	knownUrls := lo.KeyBy(existingChannels, func(c models.Channel) string { return c.Url })

	channels := 0
	for _, c := range roster.Channels {
		if _, ok := knownUrls[c.Url]; ok {
			log.WithFields(log.Fields{"name": c.Name, "url": c.Url}).Info("Channel already subscribed, skipping")
			continue
		}
		if err := server.ValidateFeedURL(c.Url); err != nil {
			return devices, channels, fmt.Errorf("channel %s: %w", c.Name, err)
		}
		channel, err := store.CreateChannel(ctx, c.Name, c.Url)
		if err != nil {
			return devices, channels, err
		}
		knownUrls[channel.Url] = channel
		channels++
	}

	return devices, channels, nil
}
