package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ufohubx/keyserver/internal/identity"
	"github.com/ufohubx/keyserver/internal/keycodec"
	"github.com/ufohubx/keyserver/internal/logger"
	"github.com/ufohubx/keyserver/internal/model"
	"github.com/ufohubx/keyserver/internal/store"
)

// Extension failures. These are expected business outcomes surfaced to the
// handler layer, which maps them to reason strings.
var (
	ErrNotOwner       = errors.New("key is bound to another identity")
	ErrAlreadyExpired = errors.New("key has already expired")
)

// Options holds key lifecycle policy
type Options struct {
	// DefaultTTL applies to issuance when no ttl is requested (default 48h)
	DefaultTTL time.Duration
	// ExtendStep is the extension delta when none is requested (default 5h)
	ExtendStep time.Duration
	// ExtendMax caps a single extension call (default: ExtendStep)
	ExtendMax time.Duration
	// MaxUses is the verification ceiling stamped on new records (0 = unlimited)
	MaxUses int
	// AllowKeys are operator bypass tokens, compared after normalization
	AllowKeys []string
}

func (o *Options) applyDefaults() {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 48 * time.Hour
	}
	if o.ExtendStep <= 0 {
		o.ExtendStep = 5 * time.Hour
	}
	if o.ExtendMax <= 0 {
		o.ExtendMax = o.ExtendStep
	}
}

// Registry is the authoritative owner of key lifecycle state. It enforces
// one active key per identity, adjudicates verification, and applies the
// strict expiry policy: an expired key is never rebound to a new owner, it
// is denied and eventually removed by the sweeper.
//
// In-memory state is authoritative; the store mirrors it for durability.
// A single mutex serializes every read-modify-write sequence so concurrent
// requests for the same identity cannot mint duplicate live keys.
type Registry struct {
	mu         sync.Mutex
	store      store.Store
	opaque     *keycodec.Opaque
	stateless  *keycodec.Stateless
	records    map[string]*model.KeyRecord
	byIdentity map[string]string
	allow      map[string]struct{}
	opts       Options
	log        *logger.Logger

	now func() time.Time
}

// New creates a stateful registry backed by the given store and rebuilds
// the in-memory state from it.
func New(ctx context.Context, st store.Store, opts Options, log *logger.Logger) (*Registry, error) {
	opts.applyDefaults()

	r := &Registry{
		store:      st,
		opaque:     keycodec.NewOpaque(),
		records:    make(map[string]*model.KeyRecord),
		byIdentity: make(map[string]string),
		allow:      allowSet(opts.AllowKeys),
		opts:       opts,
		log:        log.WithComponent("registry"),
		now:        time.Now,
	}

	recs, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load key store: %w", err)
	}
	for _, rec := range recs {
		r.records[rec.Key] = rec
		if rec.Identity == "" {
			continue
		}
		// the freshest record wins the identity index
		if cur, ok := r.records[r.byIdentity[rec.Identity]]; !ok || rec.ExpiresAt.After(cur.ExpiresAt) {
			r.byIdentity[rec.Identity] = rec.Key
		}
	}

	return r, nil
}

// NewStateless creates a registry whose keys are self-certifying tokens.
// No store is consulted: verification recomputes the HMAC, extension
// re-mints, and the registry degenerates to the allow-list plus the codec.
// Issuance is not idempotent in this mode and keys cannot be revoked
// before their natural expiry.
func NewStateless(codec *keycodec.Stateless, opts Options, log *logger.Logger) *Registry {
	opts.applyDefaults()
	return &Registry{
		stateless: codec,
		allow:     allowSet(opts.AllowKeys),
		opts:      opts,
		log:       log.WithComponent("registry"),
		now:       time.Now,
	}
}

func allowSet(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if n := keycodec.Normalize(k); n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}

// Issue returns the requester's active key, minting one if none exists.
// Spamming issue never yields multiple live keys for the same identity.
func (r *Registry) Issue(ctx context.Context, id identity.Identity, ttl time.Duration) (*model.KeyRecord, error) {
	if ttl <= 0 {
		ttl = r.opts.DefaultTTL
	}
	now := r.now()

	if r.stateless != nil {
		exp := now.Add(ttl)
		key, err := r.stateless.Encode(id.String(), exp)
		if err != nil {
			return nil, err
		}
		return &model.KeyRecord{Key: key, Identity: id.String(), IssuedAt: now, ExpiresAt: exp}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := r.byIdentity[id.String()]; ok {
		if rec, ok := r.records[key]; ok && !rec.IsExpired(now) {
			cp := *rec
			return &cp, nil
		}
	}

	key, err := r.opaque.Generate(func(k string) bool {
		_, exists := r.records[k]
		return exists
	})
	if err != nil {
		return nil, err
	}

	rec := &model.KeyRecord{
		ID:        uuid.New().String(),
		Key:       key,
		Identity:  id.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		MaxUses:   r.opts.MaxUses,
	}
	r.records[key] = rec
	r.byIdentity[id.String()] = key
	r.log.KeyEvent("issue", key, id.String(), true)

	// In-memory state stays authoritative on storage failure; the record
	// survives for the rest of the process lifetime either way.
	if err := r.store.Put(ctx, rec); err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("failed to persist key record")
		return nil, fmt.Errorf("failed to persist key record: %w", err)
	}

	cp := *rec
	return &cp, nil
}

// Verify adjudicates a verification request. All failures are expected
// outcomes carried in the result, never errors.
func (r *Registry) Verify(ctx context.Context, rawKey string, id identity.Identity) model.VerifyResult {
	now := r.now()

	// Allow-list bypass is identity-independent and computes a fresh
	// expiry on every check; nothing is persisted for these tokens.
	if _, ok := r.allow[keycodec.Normalize(rawKey)]; ok {
		return model.VerifyResult{Valid: true, ExpiresAt: now.Add(r.opts.DefaultTTL), AllowListed: true}
	}

	if r.stateless != nil {
		return r.verifyStateless(rawKey, id, now)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[keycodec.Normalize(rawKey)]
	if !ok {
		return model.VerifyResult{Reason: model.ReasonNotFound}
	}

	if rec.Reusable {
		// reusable keys self-refresh and bind lazily
		rec.ExpiresAt = now.Add(r.opts.DefaultTTL)
		r.bindLocked(rec, id)
		r.persistLocked(ctx, rec)
		return model.VerifyResult{Valid: true, ExpiresAt: rec.ExpiresAt}
	}

	if rec.IsExpired(now) {
		// strict policy: deny and leave the record for the sweeper
		return model.VerifyResult{Reason: model.ReasonExpired}
	}

	if rec.Identity != "" && !identity.Matches(identity.Identity(rec.Identity), id) {
		return model.VerifyResult{Reason: model.ReasonIdentityMismatch}
	}

	if rec.Exhausted() {
		return model.VerifyResult{Reason: model.ReasonExhausted}
	}

	r.bindLocked(rec, id)
	rec.Uses++
	r.persistLocked(ctx, rec)

	return model.VerifyResult{Valid: true, ExpiresAt: rec.ExpiresAt}
}

func (r *Registry) verifyStateless(rawKey string, id identity.Identity, now time.Time) model.VerifyResult {
	boundID, exp, err := r.stateless.Decode(strings.TrimSpace(rawKey))
	if err != nil {
		return model.VerifyResult{Reason: model.ReasonNotFound}
	}
	if now.After(exp) {
		return model.VerifyResult{Reason: model.ReasonExpired}
	}
	if !identity.Matches(identity.Identity(boundID), id) {
		return model.VerifyResult{Reason: model.ReasonIdentityMismatch}
	}
	return model.VerifyResult{Valid: true, ExpiresAt: exp}
}

// Extend tops up an active key's expiry. It never resurrects a dead key.
// The delta is clamped to the configured per-call maximum. The returned
// key equals the input for stateful registries; the stateless codec
// re-mints, so the caller must adopt the returned key string.
func (r *Registry) Extend(ctx context.Context, rawKey string, id identity.Identity, delta time.Duration) (model.ExtendResult, error) {
	if delta <= 0 {
		delta = r.opts.ExtendStep
	}
	if delta > r.opts.ExtendMax {
		delta = r.opts.ExtendMax
	}
	now := r.now()

	if r.stateless != nil {
		return r.extendStateless(rawKey, id, delta, now)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[keycodec.Normalize(rawKey)]
	if !ok {
		return model.ExtendResult{}, store.ErrNotFound
	}
	if rec.Identity != "" && !identity.Matches(identity.Identity(rec.Identity), id) {
		return model.ExtendResult{}, ErrNotOwner
	}
	if rec.IsExpired(now) {
		return model.ExtendResult{}, ErrAlreadyExpired
	}

	r.bindLocked(rec, id)
	base := rec.ExpiresAt
	if base.Before(now) {
		base = now
	}
	rec.ExpiresAt = base.Add(delta)
	r.log.KeyEvent("extend", rec.Key, rec.Identity, true)

	if err := r.store.Put(ctx, rec); err != nil {
		r.log.Error().Err(err).Str("key", rec.Key).Msg("failed to persist key record")
		return model.ExtendResult{}, fmt.Errorf("failed to persist key record: %w", err)
	}

	return model.ExtendResult{Key: rec.Key, ExpiresAt: rec.ExpiresAt}, nil
}

func (r *Registry) extendStateless(rawKey string, id identity.Identity, delta time.Duration, now time.Time) (model.ExtendResult, error) {
	boundID, exp, err := r.stateless.Decode(strings.TrimSpace(rawKey))
	if err != nil {
		return model.ExtendResult{}, store.ErrNotFound
	}
	if !identity.Matches(identity.Identity(boundID), id) {
		return model.ExtendResult{}, ErrNotOwner
	}
	if now.After(exp) {
		return model.ExtendResult{}, ErrAlreadyExpired
	}

	base := exp
	if base.Before(now) {
		base = now
	}
	newExp := base.Add(delta)
	key, err := r.stateless.Encode(boundID, newExp)
	if err != nil {
		return model.ExtendResult{}, err
	}
	return model.ExtendResult{Key: key, ExpiresAt: newExp}, nil
}

// Sweep removes expired records and returns the number purged
func (r *Registry) Sweep(ctx context.Context) int {
	if r.stateless != nil {
		return 0
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, rec := range r.records {
		if !rec.IsExpired(now) {
			continue
		}
		delete(r.records, key)
		if r.byIdentity[rec.Identity] == key {
			delete(r.byIdentity, rec.Identity)
		}
		if err := r.store.Delete(ctx, key); err != nil {
			r.log.Error().Err(err).Str("key", key).Msg("failed to delete swept key record")
		}
		removed++
	}
	return removed
}

// RunSweeper purges expired records on a timer until ctx is cancelled.
// It takes the same mutation lock as foreground requests, so individual
// sweeps are short and never block the handlers for long.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if r.stateless != nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.log.Info().Int("removed", n).Msg("swept expired key records")
			}
		}
	}
}

// List returns a snapshot of all records, newest first
func (r *Registry) List() []*model.KeyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.KeyRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out
}

// Stateless reports whether the registry runs in stateless mode
func (r *Registry) Stateless() bool {
	return r.stateless != nil
}

// bindLocked claims an unbound record for the presented identity.
// Partial (uid-only) identities never claim a record. Caller must hold r.mu.
func (r *Registry) bindLocked(rec *model.KeyRecord, id identity.Identity) {
	if rec.Identity != "" || id.String() == "" || id.Partial() {
		return
	}
	rec.Identity = id.String()
	r.byIdentity[rec.Identity] = rec.Key
}

// persistLocked mirrors a mutation to the store, logging failures.
// Verification outcomes come from memory, so a failed write does not fail
// the request. Caller must hold r.mu.
func (r *Registry) persistLocked(ctx context.Context, rec *model.KeyRecord) {
	if err := r.store.Put(ctx, rec); err != nil {
		r.log.Error().Err(err).Str("key", rec.Key).Msg("failed to persist key record")
	}
}
