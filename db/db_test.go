package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"homedash/db"
	"homedash/models"

	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "homedash.db")
	require.NoError(t, db.Migrate(url))

	store, err := db.Open(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		driver     string
		flavor     sqlbuilder.Flavor
		migrateURL string
		wantErr    bool
	}{
		{
			name:       "postgres url",
			url:        "postgres://user:pw@localhost:5432/homedash?sslmode=disable",
			driver:     "pgx",
			flavor:     sqlbuilder.PostgreSQL,
			migrateURL: "pgx5://user:pw@localhost:5432/homedash?sslmode=disable",
		},
		{
			name:       "postgresql url",
			url:        "postgresql://localhost/homedash",
			driver:     "pgx",
			flavor:     sqlbuilder.PostgreSQL,
			migrateURL: "pgx5://localhost/homedash",
		},
		{
			name:       "sqlite url",
			url:        "sqlite://data/homedash.db",
			driver:     "sqlite",
			flavor:     sqlbuilder.SQLite,
			migrateURL: "sqlite://data/homedash.db",
		},
		{
			name:       "plain path",
			url:        "homedash.db",
			driver:     "sqlite",
			flavor:     sqlbuilder.SQLite,
			migrateURL: "sqlite://homedash.db",
		},
		{
			name:    "empty",
			url:     "  ",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			url:     "mysql://localhost/homedash",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialect, err := db.ParseDatabaseURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, dialect.Driver)
			assert.Equal(t, tt.flavor, dialect.Flavor)
			assert.Equal(t, tt.migrateURL, dialect.MigrateURL)
		})
	}
}

func TestDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	created, err := store.CreateDevice(ctx, "nas", "10.0.0.5", "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, models.Offline, created.Status)

	devices, err := store.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, created, devices[0])

	require.NoError(t, store.SetDeviceStatus(ctx, created.Id, models.Online))
	require.NoError(t, store.UpdateDevice(ctx, created.Id, "storage", "10.0.0.6", "AA:BB:CC:DD:EE:00"))

	device, err := store.GetDevice(ctx, created.Id)
	require.NoError(t, err)
	assert.Equal(t, "storage", device.Name)
	assert.Equal(t, "10.0.0.6", device.Ip)
	assert.Equal(t, models.Online, device.Status, "update must not reset status")

	require.NoError(t, store.DeleteDevice(ctx, created.Id))
	_, err = store.GetDevice(ctx, created.Id)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestMissingRowsReturnNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)
	id := uuid.New()

	assert.ErrorIs(t, store.SetDeviceStatus(ctx, id, models.Online), db.ErrNotFound)
	assert.ErrorIs(t, store.UpdateDevice(ctx, id, "a", "10.0.0.1", "aa"), db.ErrNotFound)
	assert.ErrorIs(t, store.DeleteDevice(ctx, id), db.ErrNotFound)
	assert.ErrorIs(t, store.DeleteChannel(ctx, id), db.ErrNotFound)
	assert.ErrorIs(t, store.UpdateArticle(ctx, id, "a", nil), db.ErrNotFound)
	assert.ErrorIs(t, store.DeleteArticle(ctx, id), db.ErrNotFound)
}

func TestChannels(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	b, err := store.CreateChannel(ctx, "b-feed", "http://example/b.xml")
	require.NoError(t, err)
	a, err := store.CreateChannel(ctx, "a-feed", "http://example/a.xml")
	require.NoError(t, err)

	channels, err := store.ListChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{a, b}, channels)

	require.NoError(t, store.DeleteChannel(ctx, a.Id))
	channels, err = store.ListChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{b}, channels)
}

func TestArticles(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	body := "remember to renew the certificate"
	created, err := store.CreateArticle(ctx, "todo", &body)
	require.NoError(t, err)

	articles, err := store.ListArticles(ctx)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, created.Id, articles[0].Id)
	require.NotNil(t, articles[0].Article)
	assert.Equal(t, body, *articles[0].Article)
	assert.WithinDuration(t, created.Modified, articles[0].Modified, time.Second)

	require.NoError(t, store.UpdateArticle(ctx, created.Id, "done", nil))
	articles, err = store.ListArticles(ctx)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "done", articles[0].Title)
	assert.Nil(t, articles[0].Article)
	assert.False(t, articles[0].Modified.Before(created.Modified.Add(-time.Second)))
}

func TestRollback(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "homedash.db")
	require.NoError(t, db.Migrate(url))
	require.NoError(t, db.Rollback(url))
	require.NoError(t, db.Migrate(url))
}
