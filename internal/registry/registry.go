// Package registry issues unique keys to named frontends and resolves keys
// back to the frontend that owns them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stebofarm/gateway/internal/auth"
	"github.com/stebofarm/gateway/internal/cache"
	"github.com/stebofarm/gateway/internal/metrics"
	"github.com/stebofarm/gateway/internal/model"
	"github.com/stebofarm/gateway/internal/repository"
)

// Registry errors.
var (
	ErrDuplicateName   = errors.New("frontend name already registered")
	ErrUnknownFrontend = errors.New("unknown frontend")
)

// maxKeyRetries bounds regeneration after a key digest collision.
const maxKeyRetries = 3

// Store persists frontends. Implementations report duplicates with
// repository.ErrFrontendNameExists or repository.ErrFrontendKeyExists and
// misses with repository.ErrFrontendNotFound.
type Store interface {
	CreateFrontend(ctx context.Context, f *model.Frontend) error
	GetFrontendByKeyHash(ctx context.Context, keyHash string) (*model.Frontend, error)
}

// IdentityCache fronts the store read path. GetFrontend returns
// cache.ErrCacheMiss when the digest is not cached.
type IdentityCache interface {
	GetFrontend(ctx context.Context, keyHash string) (*model.Frontend, error)
	SetFrontend(ctx context.Context, f *model.Frontend) error
	IsUnknownIdentity(ctx context.Context, keyHash string) (bool, error)
	SetUnknownIdentity(ctx context.Context, keyHash string) error
	ClearUnknownIdentity(ctx context.Context, keyHash string) error
}

// Registry handles frontend registration and identity lookup.
type Registry struct {
	store   Store
	cache   IdentityCache
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Registry. identities may be nil to read straight from the
// store.
func New(store Store, identities IdentityCache, recorder metrics.Recorder, logger *slog.Logger) *Registry {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		cache:   identities,
		metrics: recorder,
		logger:  logger.With("component", "registry"),
		now:     time.Now,
	}
}

// Register creates a frontend and issues its unique key. The returned
// frontend carries the plaintext key in UniqueKey; only its digest is stored.
// A name that is already registered fails with ErrDuplicateName and leaves
// the existing registration untouched.
func (r *Registry) Register(ctx context.Context, name string) (*model.Frontend, error) {
	name, err := model.NormalizeFrontendName(name)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxKeyRetries; attempt++ {
		key, err := auth.GenerateUniqueKey()
		if err != nil {
			return nil, err
		}

		f := &model.Frontend{
			ID:        ulid.Make().String(),
			Name:      name,
			KeyHash:   auth.HashUniqueKey(key),
			CreatedAt: r.now().UTC().Truncate(time.Microsecond),
		}

		err = r.store.CreateFrontend(ctx, f)
		switch {
		case err == nil:
			f.UniqueKey = key
			r.forgetUnknown(ctx, f.KeyHash)
			r.metrics.IncFrontendRegistered()
			return f, nil
		case errors.Is(err, repository.ErrFrontendNameExists):
			return nil, ErrDuplicateName
		case errors.Is(err, repository.ErrFrontendKeyExists):
			continue
		default:
			return nil, fmt.Errorf("failed to register frontend: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to issue unique key after %d attempts", maxKeyRetries)
}

// Lookup resolves a unique key to its frontend. It returns
// ErrUnknownFrontend if the key was never issued. Any other error means the
// backing store could not answer.
func (r *Registry) Lookup(ctx context.Context, uniqueKey string) (*model.Frontend, error) {
	if uniqueKey == "" {
		return nil, ErrUnknownFrontend
	}
	keyHash := auth.HashUniqueKey(uniqueKey)

	if r.cache != nil {
		f, err := r.cache.GetFrontend(ctx, keyHash)
		if err == nil {
			r.metrics.IncIdentityCacheHit()
			return f, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("identity cache read failed", "error", err)
		}
		r.metrics.IncIdentityCacheMiss()

		if unknown, err := r.cache.IsUnknownIdentity(ctx, keyHash); err == nil && unknown {
			return nil, ErrUnknownFrontend
		}
	}

	f, err := r.store.GetFrontendByKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, repository.ErrFrontendNotFound) {
			if r.cache != nil {
				if err := r.cache.SetUnknownIdentity(ctx, keyHash); err != nil {
					r.logger.Warn("negative cache write failed", "error", err)
				}
			}
			return nil, ErrUnknownFrontend
		}
		return nil, fmt.Errorf("failed to look up frontend: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.SetFrontend(ctx, f); err != nil {
			r.logger.Warn("identity cache write failed", "error", err)
		}
	}

	return f, nil
}

// Exists reports whether uniqueKey was issued by Register.
func (r *Registry) Exists(ctx context.Context, uniqueKey string) (bool, error) {
	_, err := r.Lookup(ctx, uniqueKey)
	if err != nil {
		if errors.Is(err, ErrUnknownFrontend) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Registry) forgetUnknown(ctx context.Context, keyHash string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.ClearUnknownIdentity(ctx, keyHash); err != nil {
		r.logger.Warn("negative cache clear failed", "error", err)
	}
}
