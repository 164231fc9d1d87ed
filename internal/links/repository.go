package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// Repository is the PostgreSQL-backed link store.
type Repository struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
		qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Insert writes a new link. The check-and-insert is atomic: a concurrent
// insert of the same identifier makes exactly one caller win, the loser
// gets ErrCodeTaken and must retry with a fresh candidate.
func (r *Repository) Insert(ctx context.Context, link *Link) error {
	query := r.qb.Insert("links").
		Columns("id", "destination", "owner_id", "created_at").
		Values(link.ID, link.Destination, link.OwnerID, link.CreatedAt).
		Suffix("ON CONFLICT (id) DO NOTHING")

	res, err := query.RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return storageErr("insert link", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("insert link", err)
	}
	if affected == 0 {
		return ErrCodeTaken
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Link, error) {
	query := r.qb.Select("id", "destination", "owner_id", "created_at", "click_count", "last_clicked_at").
		From("links").
		Where(sq.Eq{"id": id})

	var link Link
	var lastClicked sql.NullTime
	err := query.RunWith(r.db).QueryRowContext(ctx).Scan(
		&link.ID, &link.Destination, &link.OwnerID, &link.CreatedAt,
		&link.ClickCount, &lastClicked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get link", err)
	}
	if lastClicked.Valid {
		t := lastClicked.Time
		link.LastClickedAt = &t
	}
	return &link, nil
}

// Delete removes the link. Its click events go with it through the
// ON DELETE CASCADE foreign key, so the cascade is part of the same
// transaction as the row delete.
func (r *Repository) Delete(ctx context.Context, id string) error {
	query := r.qb.Delete("links").Where(sq.Eq{"id": id})

	res, err := query.RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return storageErr("delete link", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete link", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	query := r.qb.Select("id", "destination", "owner_id", "created_at", "click_count", "last_clicked_at").
		From("links").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC")

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, storageErr("list links", err)
	}
	defer rows.Close()

	var result []Link
	for rows.Next() {
		var link Link
		var lastClicked sql.NullTime
		if err := rows.Scan(
			&link.ID, &link.Destination, &link.OwnerID, &link.CreatedAt,
			&link.ClickCount, &lastClicked,
		); err != nil {
			return nil, storageErr("scan link", err)
		}
		if lastClicked.Valid {
			t := lastClicked.Time
			link.LastClickedAt = &t
		}
		result = append(result, link)
	}
	return result, rows.Err()
}

// RecordClicks persists a batch of click events and bumps the per-link
// counters in one transaction. Events whose link has been deleted since
// they were queued are silently skipped; the foreign key guarantees no
// orphaned events can be written either way.
func (r *Repository) RecordClicks(ctx context.Context, events []ClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin click batch", err)
	}
	defer tx.Rollback()

	live, err := r.liveLinkIDs(ctx, tx, events)
	if err != nil {
		return err
	}

	ids, byLink := foldClicks(events, live)
	if len(ids) == 0 {
		return nil
	}

	insert := r.qb.Insert("click_events").
		Columns("link_id", "occurred_at", "country", "user_agent")
	for _, ev := range events {
		if !live[ev.LinkID] {
			continue
		}
		insert = insert.Values(ev.LinkID, ev.OccurredAt, ev.Country, ev.UserAgent)
	}

	if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
		return storageErr("insert click batch", err)
	}

	for _, id := range ids {
		c := byLink[id]
		update := r.qb.Update("links").
			Set("click_count", sq.Expr("click_count + ?", c.clicks)).
			Set("last_clicked_at", sq.Expr("GREATEST(COALESCE(last_clicked_at, 'epoch'::timestamptz), ?)", c.latest)).
			Where(sq.Eq{"id": id})

		if _, err := update.RunWith(tx).ExecContext(ctx); err != nil {
			return storageErr("update click counters", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit click batch", err)
	}
	return nil
}

type clickCounter struct {
	clicks int64
	latest time.Time
}

// foldClicks groups live events into per-link counters. Link ids come back
// sorted so that concurrent batch transactions update overlapping rows in
// the same order and cannot deadlock each other.
func foldClicks(events []ClickEvent, live map[string]bool) ([]string, map[string]*clickCounter) {
	byLink := make(map[string]*clickCounter)
	ids := make([]string, 0, len(live))
	for _, ev := range events {
		if !live[ev.LinkID] {
			continue
		}
		c, ok := byLink[ev.LinkID]
		if !ok {
			c = &clickCounter{}
			byLink[ev.LinkID] = c
			ids = append(ids, ev.LinkID)
		}
		c.clicks++
		if ev.OccurredAt.After(c.latest) {
			c.latest = ev.OccurredAt
		}
	}
	sort.Strings(ids)
	return ids, byLink
}

func (r *Repository) liveLinkIDs(ctx context.Context, tx *sql.Tx, events []ClickEvent) (map[string]bool, error) {
	seen := make(map[string]bool, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if !seen[ev.LinkID] {
			seen[ev.LinkID] = true
			ids = append(ids, ev.LinkID)
		}
	}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM links WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, storageErr("filter live links", err)
	}
	defer rows.Close()

	live := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan link id", err)
		}
		live[id] = true
	}
	return live, rows.Err()
}

// EventsByLink returns all click events for a link ordered by occurrence.
func (r *Repository) EventsByLink(ctx context.Context, linkID string) ([]ClickEvent, error) {
	query := r.qb.Select("link_id", "occurred_at", "country", "user_agent").
		From("click_events").
		Where(sq.Eq{"link_id": linkID}).
		OrderBy("occurred_at ASC")

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, storageErr("list click events", err)
	}
	defer rows.Close()

	var events []ClickEvent
	for rows.Next() {
		var ev ClickEvent
		if err := rows.Scan(&ev.LinkID, &ev.OccurredAt, &ev.Country, &ev.UserAgent); err != nil {
			return nil, storageErr("scan click event", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
