package db

import (
	"context"
	"fmt"

	"homedash/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ListDevices returns the whole device roster ordered by name
func (db *DB) ListDevices(ctx context.Context) ([]models.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.flavor.NewSelectBuilder()
	sb.Select("id", "name", "ip", "mac", "status").From("devices").OrderBy("name", "id")
	query, args := sb.Build()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.Id, &device.Name, &device.Ip, &device.Mac, &device.Status); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return devices, nil
}

// GetDevice returns a single device or ErrNotFound
func (db *DB) GetDevice(ctx context.Context, id uuid.UUID) (models.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.flavor.NewSelectBuilder()
	sb.Select("id", "name", "ip", "mac", "status").From("devices").Where(sb.Equal("id", id.String()))
	query, args := sb.Build()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.Device{}, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Device{}, fmt.Errorf("rows error: %w", err)
		}
		return models.Device{}, ErrNotFound
	}
	var device models.Device
	if err := rows.Scan(&device.Id, &device.Name, &device.Ip, &device.Mac, &device.Status); err != nil {
		return models.Device{}, fmt.Errorf("scan error: %w", err)
	}
	return device, nil
}

// CreateDevice registers a new device. New devices always start offline,
// only the liveness monitor moves them online.
func (db *DB) CreateDevice(ctx context.Context, name, ip, mac string) (models.Device, error) {
	device := models.Device{
		Id:     uuid.New(),
		Name:   name,
		Ip:     ip,
		Mac:    mac,
		Status: models.Offline,
	}

	ib := db.flavor.NewInsertBuilder()
	ib.InsertInto("devices").Cols("id", "name", "ip", "mac", "status").
		Values(device.Id.String(), device.Name, device.Ip, device.Mac, device.Status)
	query, args := ib.Build()

	if _, err := db.exec(ctx, query, args); err != nil {
		return models.Device{}, fmt.Errorf("insert error: %w", err)
	}

	log.WithFields(log.Fields{
		"id":   device.Id,
		"name": device.Name,
	}).Info("Device created")
	return device, nil
}

// UpdateDevice changes the descriptive fields of a device. Status is left
// untouched, it belongs to the liveness monitor.
func (db *DB) UpdateDevice(ctx context.Context, id uuid.UUID, name, ip, mac string) error {
	ub := db.flavor.NewUpdateBuilder()
	ub.Update("devices").
		Set(ub.Assign("name", name), ub.Assign("ip", ip), ub.Assign("mac", mac)).
		Where(ub.Equal("id", id.String()))
	query, args := ub.Build()

	if err := db.execOne(ctx, query, args); err != nil {
		return fmt.Errorf("update device %s: %w", id, err)
	}
	return nil
}

// SetDeviceStatus persists a liveness transition
func (db *DB) SetDeviceStatus(ctx context.Context, id uuid.UUID, status models.Status) error {
	ub := db.flavor.NewUpdateBuilder()
	ub.Update("devices").Set(ub.Assign("status", status)).Where(ub.Equal("id", id.String()))
	query, args := ub.Build()

	if err := db.execOne(ctx, query, args); err != nil {
		return fmt.Errorf("set status of device %s: %w", id, err)
	}
	return nil
}

func (db *DB) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	del := db.flavor.NewDeleteBuilder()
	del.DeleteFrom("devices").Where(del.Equal("id", id.String()))
	query, args := del.Build()

	if err := db.execOne(ctx, query, args); err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}

	log.WithFields(log.Fields{
		"id": id,
	}).Info("Device deleted")
	return nil
}
