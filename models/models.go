package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the two-valued liveness flag of a device
type Status = bool

const (
	Online  Status = true
	Offline Status = false
)

// StatusString renders a liveness flag for logs and events
func StatusString(status Status) string {
	if status == Online {
		return "online"
	}
	return "offline"
}

// Device is a host on the local network that the liveness monitor probes
type Device struct {
	Id     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Ip     string    `json:"ip"`
	Mac    string    `json:"mac"`
	Status Status    `json:"status"`
}

// Channel is an RSS or Atom subscription
type Channel struct {
	Id   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Url  string    `json:"url"`
}

// Article is a free-form note kept on the dashboard
type Article struct {
	Id       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Article  *string   `json:"article"`
	Modified time.Time `json:"modified"`
}

// FeedItem is a single entry of a fetched feed, every field may be missing
type FeedItem struct {
	Title       *string `json:"title"`
	Link        *string `json:"link"`
	Description *string `json:"description,omitempty"`
	Author      *string `json:"author,omitempty"`
}

// FeedSnapshot is the parsed content of one channel at the time it was fetched
type FeedSnapshot struct {
	ChannelId uuid.UUID  `json:"channelId"`
	Name      string     `json:"name"`
	Link      string     `json:"link"`
	Items     []FeedItem `json:"items"`
}

// StatusChangeEvent fired when the liveness monitor persists a transition
type StatusChangeEvent struct {
	DeviceId uuid.UUID `json:"deviceId"`
	Name     string    `json:"name"`
	Ip       string    `json:"ip"`
	Status   Status    `json:"status"`
	At       time.Time `json:"at"`
}

// FeedRefreshEvent fired when the feed refresher finishes a cycle
type FeedRefreshEvent struct {
	Channels int       `json:"channels"`
	Failed   int       `json:"failed"`
	At       time.Time `json:"at"`
}
