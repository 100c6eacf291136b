package storefront

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor encodes the position of a list page. Entity IDs are UUIDv7 and
// therefore sort by creation time, so the last ID is enough to resume.
type Cursor struct {
	LastID    string    `json:"id"`
	PageSize  int32     `json:"page_size"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
}

// CursorParams holds cursor-based pagination parameters.
type CursorParams struct {
	PageSize int32  // Number of items per page
	AfterID  string // Resume after this ID (empty for first page)
}

// PaginationConfig holds cursor pagination configuration.
type PaginationConfig struct {
	DefaultPageSize int32
	MaxPageSize     int32
	MinPageSize     int32
	MaxCursorAge    time.Duration // How long cursors remain valid
}

// DefaultPaginationConfig returns sensible cursor pagination defaults.
func DefaultPaginationConfig() PaginationConfig {
	return PaginationConfig{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		MinPageSize:     1,
		MaxCursorAge:    24 * time.Hour, // Cursors expire after 24 hours
	}
}

// Paginator provides cursor-based pagination logic shared by the access paths.
type Paginator struct {
	config PaginationConfig
}

// NewPaginator creates a new cursor paginator with default configuration.
func NewPaginator() *Paginator {
	return &Paginator{config: DefaultPaginationConfig()}
}

// NewPaginatorWithConfig creates a new cursor paginator with custom configuration.
func NewPaginatorWithConfig(config PaginationConfig) *Paginator {
	return &Paginator{config: config}
}

// ParseParams normalizes the page size and decodes the cursor of a filter.
func (p *Paginator) ParseParams(filter Filter) (CursorParams, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = p.config.DefaultPageSize
	}
	if pageSize > p.config.MaxPageSize {
		pageSize = p.config.MaxPageSize
	}
	if pageSize < p.config.MinPageSize {
		pageSize = p.config.MinPageSize
	}

	cursor, err := p.DecodeCursor(filter.Cursor)
	if err != nil {
		return CursorParams{}, NewValidationErrorForField("cursor", filter.Cursor, err.Error())
	}
	params := CursorParams{PageSize: pageSize}
	if cursor != nil {
		params.AfterID = cursor.LastID
	}
	return params, nil
}

// DecodeCursor decodes a cursor string into a Cursor struct.
func (p *Paginator) DecodeCursor(cursorStr string) (*Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor content: %w", err)
	}

	if time.Since(cursor.CreatedAt) > p.config.MaxCursorAge {
		return nil, fmt.Errorf("cursor expired (age: %v, max: %v)",
			time.Since(cursor.CreatedAt), p.config.MaxCursorAge)
	}

	if cursor.Version != 1 {
		return nil, fmt.Errorf("unsupported cursor version: %d", cursor.Version)
	}

	return &cursor, nil
}

// EncodeCursor encodes a Cursor struct into a base64 string.
func (p *Paginator) EncodeCursor(cursor *Cursor) (string, error) {
	if cursor == nil {
		return "", nil
	}

	if cursor.CreatedAt.IsZero() {
		cursor.CreatedAt = time.Now()
	}
	if cursor.Version == 0 {
		cursor.Version = 1
	}

	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}

	return base64.URLEncoding.EncodeToString(data), nil
}

// BuildPage assembles a page. When hasMore is set, the next cursor points
// after the last item.
func (p *Paginator) BuildPage(items []Entity, params CursorParams, hasMore bool) (Page, error) {
	page := Page{Items: items}
	if !hasMore || len(items) == 0 {
		return page, nil
	}
	next, err := p.EncodeCursor(&Cursor{
		LastID:   items[len(items)-1].ID,
		PageSize: params.PageSize,
	})
	if err != nil {
		return Page{}, err
	}
	page.NextCursor = next
	return page, nil
}

// Config returns the current pagination configuration.
func (p *Paginator) Config() PaginationConfig {
	return p.config
}
