// Package remote holds the lightweight HTTP probe against the platform's
// oEmbed endpoint, used by metadata-probe jobs to confirm an item is still
// reachable and capture its display metadata without touching the fetch tool.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vidkeep/vidkeep/internal/fetcher"
	"github.com/vidkeep/vidkeep/internal/logger"
)

const oembedEndpoint = "https://www.youtube.com/oembed"

// ItemMetadata is the subset of the oEmbed response we keep.
type ItemMetadata struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
	Thumbnail  string `json:"thumbnail_url"`
}

// ProbeClient queries item metadata over plain HTTP.
type ProbeClient struct {
	client *resty.Client
	log    *logger.Logger
}

// NewProbeClient creates an oEmbed probe client.
func NewProbeClient(log *logger.Logger) *ProbeClient {
	if log == nil {
		log = logger.GetDefault()
	}
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetHeader("Accept", "application/json")

	return &ProbeClient{
		client: client,
		log:    log.WithField(logger.FieldComponent, "remote"),
	}
}

// Probe fetches oEmbed metadata for an item.
func (c *ProbeClient) Probe(ctx context.Context, itemID string) (*ItemMetadata, error) {
	var meta ItemMetadata
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"url":    fetcher.WatchURL(itemID),
			"format": "json",
		}).
		SetResult(&meta).
		Get(oembedEndpoint)
	if err != nil {
		return nil, fmt.Errorf("oembed request for %s: %w", itemID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oembed request for %s: status %d", itemID, resp.StatusCode())
	}
	return &meta, nil
}

// ProbeItem adapts Probe to the runner's executor interface.
func (c *ProbeClient) ProbeItem(ctx context.Context, itemID string) error {
	meta, err := c.Probe(ctx, itemID)
	if err != nil {
		return err
	}
	c.log.WithFields(logger.Fields{
		logger.FieldItem: itemID,
		"title":          meta.Title,
	}).Debug("Item probed")
	return nil
}
