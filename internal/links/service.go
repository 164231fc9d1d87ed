package links

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cliply/cliply/pkg/shortcode"
)

// Store is the subset of the repository the service depends on.
type Store interface {
	Insert(ctx context.Context, link *Link) error
	GetByID(ctx context.Context, id string) (*Link, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]Link, error)
}

// Service implements link creation and deletion on top of a Store.
//
// Identifier allocation is random-with-retry: candidates come from
// crypto/rand over base62 and collisions are detected by the store's
// atomic check-and-insert. Unguessable links were preferred over the
// zero-collision guarantee of a shared counter.
type Service struct {
	store Store

	codeLength int
	maxLength  int
	attempts   int // candidates tried per length before escalating
}

func NewService(store Store) *Service {
	return &Service{
		store:      store,
		codeLength: shortcode.DefaultLength,
		maxLength:  shortcode.DefaultLength + 3,
		attempts:   5,
	}
}

// Create validates the destination, allocates a free identifier and
// persists the link. Collisions are retried with exponential backoff and
// an escalating identifier length; only a provably full namespace
// surfaces ErrExhausted.
func (s *Service) Create(ctx context.Context, destination, ownerID string) (*Link, error) {
	dest, err := normalizeDestination(destination)
	if err != nil {
		return nil, err
	}

	for length := s.codeLength; length <= s.maxLength; length++ {
		for attempt := 0; attempt < s.attempts; attempt++ {
			code, err := shortcode.Generate(length)
			if err != nil {
				return nil, err
			}

			link := &Link{
				ID:          code,
				Destination: dest,
				OwnerID:     ownerID,
				CreatedAt:   time.Now().UTC(),
			}

			err = s.store.Insert(ctx, link)
			if err == nil {
				return link, nil
			}
			if !errors.Is(err, ErrCodeTaken) {
				return nil, err
			}

			log.Debug().Str("id", code).Int("attempt", attempt+1).Msg("short id collision, retrying")
			if err := sleep(ctx, time.Duration(1<<attempt)*time.Millisecond); err != nil {
				return nil, err
			}
		}
		log.Warn().Int("length", length).Msg("escalating short id length")
	}

	return nil, ErrExhausted
}

func (s *Service) Get(ctx context.Context, id string) (*Link, error) {
	return s.store.GetByID(ctx, id)
}

// Delete removes a link and, via cascade, its click events. Owned links
// may only be deleted by their owner; anonymous links by anyone.
func (s *Service) Delete(ctx context.Context, id, requesterID string) error {
	link, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if link.OwnerID != "" && link.OwnerID != requesterID {
		return ErrForbidden
	}

	return s.store.Delete(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func normalizeDestination(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidDestination
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrInvalidDestination
	}
	if parsed.Host == "" {
		return "", ErrInvalidDestination
	}
	return parsed.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
