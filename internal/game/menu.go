package game

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// MenuItem is one priced entry of the tip menu. IDs are derived
// deterministically so repeated normalization of the same payload yields the
// same ids.
type MenuItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price int    `json:"price"`
}

// TipMenu is the canonical ordered catalog viewers tip toward.
type TipMenu struct {
	IsEnabled bool       `json:"isEnabled"`
	Settings  []MenuItem `json:"settings"`
	UpdatedAt int64      `json:"updatedAt"`
	Source    string     `json:"source"`
}

// MenuPayloadItem is one raw external menu entry. Field names differ between
// the on-platform SDK (title) and the profile scraper (activity), and prices
// arrive under several keys, so everything is loosely typed and coerced.
type MenuPayloadItem struct {
	ID       any    `json:"id"`
	Activity string `json:"activity"`
	Title    string `json:"title"`
	Name     string `json:"name"`
	Price    any    `json:"price"`
	Tokens   any    `json:"tokens"`
	Amount   any    `json:"amount"`
}

// MenuPayload is the external tip-menu payload shape.
type MenuPayload struct {
	TipMenu struct {
		IsEnabled *bool             `json:"isEnabled"`
		UpdatedAt int64             `json:"updatedAt"`
		Settings  []MenuPayloadItem `json:"settings"`
	} `json:"tipMenu"`
}

var slugRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Slugify lowercases input, collapses runs of other characters to "_", trims
// leading/trailing underscores and caps the result at 64 chars. An empty
// result yields the fallback.
func Slugify(input, fallback string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(input), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 64 {
		slug = slug[:64]
	}
	if slug == "" {
		return fallback
	}
	return slug
}

// ParseFallbackTipMenu parses the textual "Title|Price" fallback menu. Lines
// with an unparsable price get price 1 rather than being dropped.
func ParseFallbackTipMenu(text string) []MenuItem {
	var items []MenuItem
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	index := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		titlePart, pricePart, _ := strings.Cut(line, "|")
		title := strings.TrimSpace(titlePart)
		if title == "" {
			title = "Item"
		}
		if len(title) > 80 {
			title = title[:80]
		}
		price := 1
		if num, ok := toFloat(strings.TrimSpace(pricePart)); ok {
			price = int(math.Max(1, math.Floor(num)))
		}
		items = append(items, MenuItem{
			ID:    Slugify(fmt.Sprintf("%s_%d_%d", title, price, index), fmt.Sprintf("fallback_%d", index)),
			Title: title,
			Price: price,
		})
		index++
	}
	return items
}

// normalizeMenuItem validates one raw entry. Items with a blank title or a
// non-positive price are discarded.
func normalizeMenuItem(item MenuPayloadItem, index int) (MenuItem, bool) {
	title := strings.TrimSpace(item.Activity)
	if title == "" {
		title = strings.TrimSpace(item.Title)
	}
	if title == "" {
		title = strings.TrimSpace(item.Name)
	}

	price := 0
	for _, raw := range []any{item.Price, item.Tokens, item.Amount} {
		if num, ok := toFloat(raw); ok && num > 0 {
			price = int(math.Floor(num))
			break
		}
	}

	if title == "" || price <= 0 {
		return MenuItem{}, false
	}

	placeholder := fmt.Sprintf("tip_%d", index)
	id := placeholder
	if sourceID := strings.TrimSpace(fmt.Sprint(item.ID)); sourceID != "" && sourceID != "<nil>" {
		id = Slugify(sourceID, placeholder)
	} else {
		id = Slugify(fmt.Sprintf("%s_%d_%d", title, price, index), placeholder)
	}

	return MenuItem{ID: id, Title: title, Price: price}, true
}

// NormalizeTipMenuPayload converts an external payload to a canonical
// TipMenu. When the payload yields zero valid items the textual fallback
// menu is parsed instead.
func NormalizeTipMenuPayload(payload *MenuPayload, fallbackText string, now int64) TipMenu {
	var items []MenuItem
	updatedAt := now
	if payload != nil {
		for i, raw := range payload.TipMenu.Settings {
			if item, ok := normalizeMenuItem(raw, i); ok {
				items = append(items, item)
			}
		}
		if payload.TipMenu.UpdatedAt > 0 {
			updatedAt = payload.TipMenu.UpdatedAt
		}
	}

	if len(items) == 0 {
		items = ParseFallbackTipMenu(fallbackText)
	}

	return TipMenu{
		IsEnabled: len(items) > 0,
		Settings:  items,
		UpdatedAt: updatedAt,
	}
}

// Signature is a content fingerprint of the menu used to gate notifications
// and skip redundant broadcasts after a refresh.
func (m TipMenu) Signature() string {
	parts := make([]string, 0, len(m.Settings))
	for _, item := range m.Settings {
		parts = append(parts, fmt.Sprintf("%s:%s:%d", item.ID, item.Title, item.Price))
	}
	return strings.Join(parts, "|")
}
