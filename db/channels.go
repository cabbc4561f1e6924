package db

import (
	"context"
	"fmt"

	"homedash/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ListChannels returns all feed subscriptions ordered by name
func (db *DB) ListChannels(ctx context.Context) ([]models.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.flavor.NewSelectBuilder()
	sb.Select("id", "name", "url").From("channels").OrderBy("name", "id")
	query, args := sb.Build()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	channels := []models.Channel{}
	for rows.Next() {
		var channel models.Channel
		if err := rows.Scan(&channel.Id, &channel.Name, &channel.Url); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return channels, nil
}

func (db *DB) CreateChannel(ctx context.Context, name, url string) (models.Channel, error) {
	channel := models.Channel{Id: uuid.New(), Name: name, Url: url}

	ib := db.flavor.NewInsertBuilder()
	ib.InsertInto("channels").Cols("id", "name", "url").Values(channel.Id.String(), channel.Name, channel.Url)
	query, args := ib.Build()

	if _, err := db.exec(ctx, query, args); err != nil {
		return models.Channel{}, fmt.Errorf("insert error: %w", err)
	}

	log.WithFields(log.Fields{
		"id":   channel.Id,
		"name": channel.Name,
		"url":  channel.Url,
	}).Info("Channel created")
	return channel, nil
}

func (db *DB) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	del := db.flavor.NewDeleteBuilder()
	del.DeleteFrom("channels").Where(del.Equal("id", id.String()))
	query, args := del.Build()

	if err := db.execOne(ctx, query, args); err != nil {
		return fmt.Errorf("delete channel %s: %w", id, err)
	}

	log.WithFields(log.Fields{
		"id": id,
	}).Info("Channel deleted")
	return nil
}
