package storage

import (
	"context"
	"errors"
)

// Listing pages through the objects under a prefix with an explicit cursor.
// A listing interrupted by an error can be resumed from Cursor, possibly in
// another process, without repeating or missing objects.
type Listing struct {
	store    *ObjectStore
	prefix   string
	pageSize int
	cursor   string
	done     bool
}

// NewListing starts a listing of prefix after cursor (empty for the beginning).
func (s *ObjectStore) NewListing(prefix, cursor string, pageSize int) *Listing {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Listing{store: s, prefix: prefix, pageSize: pageSize, cursor: cursor}
}

// Cursor is the name of the last object returned.
func (l *Listing) Cursor() string { return l.cursor }

// Done reports whether the listing is exhausted.
func (l *Listing) Done() bool { return l.done }

// Next returns the next page. An empty page with Done() true ends the listing.
// On error the cursor is unchanged and Next can be called again.
func (l *Listing) Next(ctx context.Context) ([]ObjectAttrs, error) {
	if l.done {
		return nil, nil
	}
	page := make([]ObjectAttrs, 0, l.pageSize)
	err := l.store.conn.ListObjects(ctx, l.store.bucket, ListQuery{Prefix: l.prefix, StartAfter: l.cursor}, func(a ObjectAttrs) error {
		page = append(page, a)
		if len(page) >= l.pageSize {
			return ErrStopListing
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStopListing) {
		return nil, l.store.classify("list", l.prefix, err)
	}
	if len(page) < l.pageSize {
		l.done = true
	}
	if len(page) > 0 {
		l.cursor = page[len(page)-1].Name
	}
	return page, nil
}

// All drains the listing.
func (l *Listing) All(ctx context.Context) ([]ObjectAttrs, error) {
	var out []ObjectAttrs
	for !l.done {
		page, err := l.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
	return out, nil
}
