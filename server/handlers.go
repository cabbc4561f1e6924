package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"homedash/db"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type handlers struct {
	store Store
	feeds FeedReader
}

type deviceRequest struct {
	Name string `json:"name"`
	Ip   string `json:"ip"`
	Mac  string `json:"mac"`
}

func (r deviceRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if net.ParseIP(r.Ip) == nil {
		return fmt.Errorf("invalid ip address %q", r.Ip)
	}
	if _, err := net.ParseMAC(r.Mac); err != nil {
		return fmt.Errorf("invalid mac address %q", r.Mac)
	}
	return nil
}

type articleRequest struct {
	Title   string  `json:"title"`
	Article *string `json:"article"`
}

func (r articleRequest) validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}

type channelRequest struct {
	Name string `json:"name"`
	Url  string `json:"url"`
}

func (r channelRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return ValidateFeedURL(r.Url)
}

// ValidateFeedURL accepts absolute http and https urls only
func ValidateFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid feed url %q, want an absolute http or https url", raw)
	}
	return nil
}

// ValidateDevice checks the fields of a device before it enters the roster
func ValidateDevice(name, ip, mac string) error {
	return deviceRequest{Name: name, Ip: ip, Mac: mac}.validate()
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).SendString(err.Error())
}

func parseBody(c *fiber.Ctx, out interface{ validate() error }) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return out.validate()
}

func parseId(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", c.Params("id"))
	}
	return id, nil
}

// storeFailure maps a store error to 404 for missing rows and 500 otherwise
func storeFailure(c *fiber.Ctx, err error, message string) error {
	if errors.Is(err, db.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).SendString("Not found")
	}
	log.WithFields(log.Fields{
		"error": err,
		"route": c.Route().Path,
	}).Error(message)
	return c.Status(fiber.StatusInternalServerError).SendString(message)
}

func (h *handlers) createDevice(c *fiber.Ctx) error {
	var req deviceRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	device, err := h.store.CreateDevice(c.UserContext(), req.Name, req.Ip, req.Mac)
	if err != nil {
		return storeFailure(c, err, "Error creating device")
	}
	return c.Status(fiber.StatusCreated).JSON(device)
}

func (h *handlers) listDevices(c *fiber.Ctx) error {
	devices, err := h.store.ListDevices(c.UserContext())
	if err != nil {
		return storeFailure(c, err, "Error listing devices")
	}
	return c.JSON(devices)
}

func (h *handlers) updateDevice(c *fiber.Ctx) error {
	id, err := parseId(c)
	if err != nil {
		return badRequest(c, err)
	}
	var req deviceRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	if err := h.store.UpdateDevice(c.UserContext(), id, req.Name, req.Ip, req.Mac); err != nil {
		return storeFailure(c, err, "Error updating device")
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *handlers) deleteDevice(c *fiber.Ctx) error {
	id, err := parseId(c)
	if err != nil {
		return badRequest(c, err)
	}
	if err := h.store.DeleteDevice(c.UserContext(), id); err != nil {
		return storeFailure(c, err, "Error deleting device")
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *handlers) createArticle(c *fiber.Ctx) error {
	var req articleRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	article, err := h.store.CreateArticle(c.UserContext(), req.Title, req.Article)
	if err != nil {
		return storeFailure(c, err, "Error creating article")
	}
	return c.Status(fiber.StatusCreated).JSON(article)
}

func (h *handlers) listArticles(c *fiber.Ctx) error {
	articles, err := h.store.ListArticles(c.UserContext())
	if err != nil {
		return storeFailure(c, err, "Error listing articles")
	}
	return c.JSON(articles)
}

func (h *handlers) updateArticle(c *fiber.Ctx) error {
	id, err := parseId(c)
	if err != nil {
		return badRequest(c, err)
	}
	var req articleRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	if err := h.store.UpdateArticle(c.UserContext(), id, req.Title, req.Article); err != nil {
		return storeFailure(c, err, "Error updating article")
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *handlers) deleteArticle(c *fiber.Ctx) error {
	id, err := parseId(c)
	if err != nil {
		return badRequest(c, err)
	}
	if err := h.store.DeleteArticle(c.UserContext(), id); err != nil {
		return storeFailure(c, err, "Error deleting article")
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *handlers) createChannel(c *fiber.Ctx) error {
	var req channelRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	channel, err := h.store.CreateChannel(c.UserContext(), req.Name, req.Url)
	if err != nil {
		return storeFailure(c, err, "Error creating channel")
	}
	return c.Status(fiber.StatusCreated).JSON(channel)
}

func (h *handlers) listChannels(c *fiber.Ctx) error {
	channels, err := h.store.ListChannels(c.UserContext())
	if err != nil {
		return storeFailure(c, err, "Error listing channels")
	}
	return c.JSON(channels)
}

func (h *handlers) deleteChannel(c *fiber.Ctx) error {
	id, err := parseId(c)
	if err != nil {
		return badRequest(c, err)
	}
	if err := h.store.DeleteChannel(c.UserContext(), id); err != nil {
		return storeFailure(c, err, "Error deleting channel")
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *handlers) listFeeds(c *fiber.Ctx) error {
	return c.JSON(h.feeds.All())
}

func (h *handlers) getFeed(c *fiber.Ctx) error {
	id, err := parseId(c)
	if err != nil {
		return badRequest(c, err)
	}
	snapshot, ok := h.feeds.Snapshot(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).SendString("Feed not cached")
	}
	return c.JSON(snapshot)
}
