package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"homedash/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	eventsPath        = "/api/events"
	keepAliveInterval = 15 * time.Second
)

// Store is the relational store behind the CRUD endpoints
type Store interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	CreateDevice(ctx context.Context, name, ip, mac string) (models.Device, error)
	UpdateDevice(ctx context.Context, id uuid.UUID, name, ip, mac string) error
	DeleteDevice(ctx context.Context, id uuid.UUID) error

	ListArticles(ctx context.Context) ([]models.Article, error)
	CreateArticle(ctx context.Context, title string, body *string) (models.Article, error)
	UpdateArticle(ctx context.Context, id uuid.UUID, title string, body *string) error
	DeleteArticle(ctx context.Context, id uuid.UUID) error

	ListChannels(ctx context.Context) ([]models.Channel, error)
	CreateChannel(ctx context.Context, name, url string) (models.Channel, error)
	DeleteChannel(ctx context.Context, id uuid.UUID) error
}

// FeedReader exposes the feed cache to the HTTP layer
type FeedReader interface {
	Snapshot(id uuid.UUID) (models.FeedSnapshot, bool)
	All() []models.FeedSnapshot
}

type ServerConfig struct {
	Store Store

	Feeds FeedReader

	// Broadcast channel for status changes and feed refreshes to SSE clients
	Broadcaster *Broadcaster

	// Comma separated list of origins allowed by CORS, defaults to all
	AllowOrigins string
}

// Server returns a fiber.App serving the dashboard API
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "homedash",
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			// Streams must not be buffered by the compressor
			return c.Path() == eventsPath
		},
	}))

	origins := config.AllowOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Cache-Control",
	}))

	h := &handlers{store: config.Store, feeds: config.Feeds}

	network := app.Group("/api/network")
	network.Post("/", h.createDevice)
	network.Get("/", h.listDevices)
	network.Put("/:id", h.updateDevice)
	network.Delete("/:id", h.deleteDevice)

	articles := app.Group("/api/articles")
	articles.Post("/", h.createArticle)
	articles.Get("/", h.listArticles)
	articles.Put("/:id", h.updateArticle)
	articles.Delete("/:id", h.deleteArticle)

	channels := app.Group("/api/channel")
	channels.Post("/", h.createChannel)
	channels.Get("/", h.listChannels)
	channels.Delete("/:id", h.deleteChannel)

	feed := app.Group("/api/feed")
	feed.Get("/", h.listFeeds)
	feed.Get("/:id", h.getFeed)

	if config.Broadcaster != nil {
		app.Get(eventsPath, events(config.Broadcaster))
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

func events(bc *Broadcaster) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		key := uuid.New().String()
		client := bc.AddClient(key)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer func() {
				log.Infof("Cleaning up SSE stream for client: %s", key)
				bc.RemoveClient(key)
			}()

			alive := time.NewTicker(keepAliveInterval)
			defer alive.Stop()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-alive.C:
					fmt.Fprintf(w, "event: ping\ndata: \n\n")
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-client:
					if !ok {
						return
					}
					payload, err := json.Marshal(event.Payload)
					if err != nil {
						log.Errorf("Error marshalling %s event for client %s: %v", event.Name, key, err)
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload)
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush %s event for client %s: %v", event.Name, key, err)
						return
					}
				}
			}
		}))

		return nil
	}
}
