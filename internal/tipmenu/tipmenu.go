// Package tipmenu resolves a model's public tip menu by probing a chain of
// candidate site origins and returning the first usable response.
package tipmenu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/game"
)

var (
	// ErrBadUsername marks an unusable username parameter.
	ErrBadUsername = errors.New("invalid username")
	// ErrUpstream means every candidate origin failed.
	ErrUpstream = errors.New("tip menu lookup failed upstream")
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{2,64}$`)
	hostPattern     = regexp.MustCompile(`^[a-z0-9.-]{1,253}$`)
)

// DefaultOrigins are probed last, after the caller hint and configured extras.
var DefaultOrigins = []string{
	"https://live.example.com",
	"https://www.example.com",
}

// Menu is the lookup result: menu items plus the origin that answered.
type Menu struct {
	Items  []game.MenuPayloadItem `json:"items"`
	Origin string                 `json:"origin"`
}

// Client probes candidate origins for a model's tip menu.
type Client struct {
	http    *http.Client
	origins []string
}

// New builds a client. extraOrigins are tried before the built-in defaults.
func New(extraOrigins []string) *Client {
	origins := make([]string, 0, len(extraOrigins)+len(DefaultOrigins))
	for _, o := range extraOrigins {
		if normalized, ok := normalizeOrigin(o); ok {
			origins = append(origins, normalized)
		}
	}
	origins = append(origins, DefaultOrigins...)
	return &Client{
		http:    &http.Client{Timeout: 5 * time.Second},
		origins: origins,
	}
}

// Fetch returns the first non-empty menu found across the candidate origins.
// When all origins yield only empty menus, the first empty one is returned.
func (c *Client) Fetch(ctx context.Context, username, hostHint string) (*Menu, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrBadUsername
	}

	candidates := make([]string, 0, len(c.origins)+1)
	if hinted, ok := normalizeOrigin(hostHint); ok {
		candidates = append(candidates, hinted)
	}
	candidates = append(candidates, c.origins...)

	var firstEmpty *Menu
	for _, origin := range dedupe(candidates) {
		menu, err := c.fetchFrom(ctx, origin, username)
		if err != nil {
			log.Debug().Err(err).Str("origin", origin).Msg("tip menu origin failed")
			continue
		}
		if len(menu.Items) > 0 {
			return menu, nil
		}
		if firstEmpty == nil {
			firstEmpty = menu
		}
	}
	if firstEmpty != nil {
		return firstEmpty, nil
	}
	return nil, ErrUpstream
}

func (c *Client) fetchFrom(ctx context.Context, origin, username string) (*Menu, error) {
	endpoint := fmt.Sprintf("%s/api/models/%s/tip-menu", origin, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, origin)
	}

	// Profile endpoints answer {"items": [...]}; on-platform ones nest the
	// list under tipMenu.settings. Accept both.
	var payload struct {
		Items   []game.MenuPayloadItem `json:"items"`
		TipMenu struct {
			Settings []game.MenuPayloadItem `json:"settings"`
		} `json:"tipMenu"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode menu from %s: %w", origin, err)
	}

	items := payload.Items
	if len(items) == 0 {
		items = payload.TipMenu.Settings
	}
	if items == nil {
		items = []game.MenuPayloadItem{}
	}
	return &Menu{Items: items, Origin: origin}, nil
}

// normalizeOrigin accepts "host", "host:port" or a full http(s) URL and
// returns a canonical https origin. Anything else is rejected.
func normalizeOrigin(raw string) (string, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return "", false
	}
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimSuffix(raw, "/")
	host := raw
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if !hostPattern.MatchString(host) || !strings.Contains(host, ".") {
		return "", false
	}
	return "https://" + host, true
}

func dedupe(origins []string) []string {
	seen := make(map[string]struct{}, len(origins))
	out := origins[:0]
	for _, o := range origins {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}
