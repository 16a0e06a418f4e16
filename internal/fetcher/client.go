// Package fetcher wraps the external yt-dlp CLI: catalog listings, single
// item downloads, and the full pending-list fallback. The tool is a black
// box; this package only builds invocations and classifies its failures.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/logger"
)

// SubscriptionGetter resolves subscription IDs to their catalog URLs.
type SubscriptionGetter interface {
	GetByID(ctx context.Context, id uint) (*domain.Subscription, error)
}

// LocalIndex answers which items are already present locally.
type LocalIndex interface {
	ScanLocalIndex(ctx context.Context, subscriptionID uint) (map[string]struct{}, error)
}

// Config holds the fetch tool invocation settings.
type Config struct {
	// Path is the yt-dlp binary; resolved via PATH when relative.
	Path string
	// Timeout bounds every tool invocation.
	Timeout time.Duration
	// OutputDir is the root directory downloads land in.
	OutputDir string
	// RateLimitKB throttles downloads when positive.
	RateLimitKB int
}

// Client invokes the external fetch tool.
type Client struct {
	cfg   Config
	subs  SubscriptionGetter
	index LocalIndex
	log   *logger.Logger

	// run is swapped in tests to avoid spawning processes.
	run func(ctx context.Context, args []string) ([]byte, error)
}

// New creates a fetch client.
func New(cfg Config, subs SubscriptionGetter, index LocalIndex, log *logger.Logger) *Client {
	if cfg.Path == "" {
		cfg.Path = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Minute
	}
	if log == nil {
		log = logger.GetDefault()
	}
	c := &Client{
		cfg:   cfg,
		subs:  subs,
		index: index,
		log:   log.WithField(logger.FieldComponent, "fetcher"),
	}
	c.run = c.runCommand
	return c
}

func (c *Client) runCommand(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ToolError{
			Err:    err,
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}
	return stdout.Bytes(), nil
}

// flatPlaylist is the shape of `yt-dlp --flat-playlist -J` output we consume.
type flatPlaylist struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Entries []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"entries"`
}

// listCatalog performs a flat-playlist listing of a subscription's URL,
// authenticated with the credential's cookies file when one is supplied.
func (c *Client) listCatalog(ctx context.Context, sub *domain.Subscription, cred *domain.Credential) (*flatPlaylist, error) {
	args := []string{"--flat-playlist", "--skip-download", "-J"}
	if cred != nil && cred.CookiesPath != "" {
		args = append(args, "--cookies", cred.CookiesPath)
	}
	args = append(args, sub.URL)
	out, err := c.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("flat playlist listing: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("flat playlist listing: empty output")
	}

	var pl flatPlaylist
	if err := json.Unmarshal(out, &pl); err != nil {
		return nil, fmt.Errorf("decode flat playlist: %w", err)
	}
	return &pl, nil
}

// ListRemoteIDs returns the remote catalog's item IDs in remote order,
// listing with the given credential when the subscription needs one.
// Implements the sync service's Lister.
func (c *Client) ListRemoteIDs(ctx context.Context, subscriptionID uint, cred *domain.Credential) ([]string, error) {
	sub, err := c.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	pl, err := c.listCatalog(ctx, sub, cred)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// ComputePendingList is the non-incremental fallback: a full remote listing
// minus the local index.
func (c *Client) ComputePendingList(ctx context.Context, sub domain.Subscription) (*domain.PendingList, error) {
	pl, err := c.listCatalog(ctx, &sub, nil)
	if err != nil {
		return nil, err
	}
	local, err := c.index.ScanLocalIndex(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	result := &domain.PendingList{RemoteTotal: len(pl.Entries)}
	for _, e := range pl.Entries {
		if e.ID == "" {
			continue
		}
		if _, ok := local[e.ID]; ok {
			result.Existing++
			continue
		}
		result.Pending++
		result.Items = append(result.Items, domain.RemoteItem{
			ID:    e.ID,
			Title: e.Title,
			URL:   e.URL,
		})
	}
	return result, nil
}

// FetchItem downloads a single remote item, optionally authenticated with a
// credential's cookies file, and returns the local index entry to record.
func (c *Client) FetchItem(ctx context.Context, subscriptionID uint, itemID string, cred *domain.Credential) (*domain.MediaItem, error) {
	if itemID == "" {
		return nil, fmt.Errorf("item ID is required")
	}
	sub, err := c.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	outDir := filepath.Join(c.cfg.OutputDir, SanitizeFilename(sub.Name))
	args := []string{
		"--no-playlist",
		"--newline",
		"--restrict-filenames",
		"--no-simulate",
		"--print", "after_move:filepath",
		"-P", outDir,
		"-o", "%(upload_date)s_%(title).200B_[%(id)s].%(ext)s",
	}
	if cred != nil && cred.CookiesPath != "" {
		args = append(args, "--cookies", cred.CookiesPath)
	}
	if c.cfg.RateLimitKB > 0 {
		args = append(args, "--limit-rate", fmt.Sprintf("%dK", c.cfg.RateLimitKB))
	}
	args = append(args, WatchURL(itemID))

	start := time.Now()
	out, err := c.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", itemID, err)
	}

	filePath := lastNonEmptyLine(string(out))
	c.log.WithFields(logger.Fields{
		logger.FieldSubscription: subscriptionID,
		logger.FieldItem:         itemID,
		logger.FieldDurationMs:   time.Since(start).Milliseconds(),
	}).Info("Item fetched")

	return &domain.MediaItem{
		SubscriptionID: subscriptionID,
		ItemID:         itemID,
		Title:          titleFromPath(filePath),
		FilePath:       filePath,
		FetchedAt:      time.Now(),
	}, nil
}

// WatchURL builds the canonical item URL from its ID.
func WatchURL(itemID string) string {
	return "https://www.youtube.com/watch?v=" + itemID
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// titleFromPath recovers a display title from the templated filename.
func titleFromPath(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	// Template: <upload_date>_<title>_[<id>]
	if idx := strings.LastIndex(base, "_["); idx > 0 {
		base = base[:idx]
	}
	if idx := strings.Index(base, "_"); idx > 0 && idx < len(base)-1 {
		base = base[idx+1:]
	}
	return strings.ReplaceAll(base, "_", " ")
}
