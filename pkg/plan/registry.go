package plan

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"gopkg.in/yaml.v3"
)

// TokenPrefix marks tokens issued by the key generator.
const TokenPrefix = "gh_"

// resolveCacheTTL bounds how long a token-to-key resolution is served from
// cache. The cache is flushed on every registry reload, so the TTL only
// matters for eviction pressure.
const resolveCacheTTL = 5 * time.Minute

// File is the on-disk registry document.
type File struct {
	Plans    []Plan    `yaml:"plans"`
	Keys     []Key     `yaml:"keys"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// snapshot is an immutable view of one loaded registry file. Lookups index
// into maps built once at load time; readers never see a half-built view.
type snapshot struct {
	plans       map[string]*Plan
	keys        map[string]*Key
	keysByToken map[string]*Key
	webhooks    map[string]*Webhook
	loadedAt    time.Time
}

// Registry serves plans, keys, and webhook registrations from a YAML file.
// Reload swaps in a complete new snapshot; a file that fails validation
// leaves the previous snapshot serving.
type Registry struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *snapshot

	resolveCache *ttlcache.Cache[string, string]

	watcher *watcher
}

// NewRegistry loads the registry file at path. The initial load must
// succeed; later reloads degrade to keeping the last good snapshot.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:   path,
		logger: slog.Default().With("component", "plan-registry"),
		resolveCache: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](resolveCacheTTL),
			ttlcache.WithCapacity[string, string](4096),
		),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	go r.resolveCache.Start()
	return r, nil
}

// Watch starts reloading the registry when the backing file changes.
func (r *Registry) Watch() error {
	if r.watcher != nil {
		return nil
	}
	w, err := newWatcher(r.path, r.logger, func() {
		if err := r.Reload(); err != nil {
			r.logger.Error("registry reload failed, keeping previous snapshot", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.watcher = w
	return nil
}

// Reload reads and validates the registry file, then atomically replaces
// the serving snapshot and flushes the resolve cache.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading registry file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing registry file: %w", err)
	}

	snap, err := buildSnapshot(&file)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current = snap
	r.mu.Unlock()
	r.resolveCache.DeleteAll()

	r.logger.Info("registry loaded",
		"path", r.path,
		"plans", len(snap.plans),
		"keys", len(snap.keys),
		"webhooks", len(snap.webhooks))
	return nil
}

func buildSnapshot(file *File) (*snapshot, error) {
	snap := &snapshot{
		plans:       make(map[string]*Plan, len(file.Plans)),
		keys:        make(map[string]*Key, len(file.Keys)),
		keysByToken: make(map[string]*Key, len(file.Keys)),
		webhooks:    make(map[string]*Webhook, len(file.Webhooks)),
		loadedAt:    time.Now(),
	}

	for i := range file.Plans {
		p := &file.Plans[i]
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := snap.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", p.ID)
		}
		snap.plans[p.ID] = p
	}

	for i := range file.Keys {
		k := &file.Keys[i]
		if err := k.validate(); err != nil {
			return nil, err
		}
		if _, dup := snap.keys[k.ID]; dup {
			return nil, fmt.Errorf("duplicate key id %q", k.ID)
		}
		if _, ok := snap.plans[k.PlanID]; !ok {
			return nil, fmt.Errorf("key %q references unknown plan %q", k.ID, k.PlanID)
		}
		if _, dup := snap.keysByToken[k.TokenHash]; dup {
			return nil, fmt.Errorf("key %q reuses another key's token hash", k.ID)
		}
		snap.keys[k.ID] = k
		snap.keysByToken[k.TokenHash] = k
	}

	for i := range file.Webhooks {
		w := &file.Webhooks[i]
		if err := w.validate(); err != nil {
			return nil, err
		}
		if _, dup := snap.webhooks[w.ID]; dup {
			return nil, fmt.Errorf("duplicate webhook id %q", w.ID)
		}
		snap.webhooks[w.ID] = w
	}

	return snap, nil
}

func (r *Registry) snapshot() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// GetPlan returns the plan by id, or nil when unknown.
func (r *Registry) GetPlan(id string) *Plan {
	return r.snapshot().plans[id]
}

// GetKey returns the key by id, or nil when unknown.
func (r *Registry) GetKey(id string) *Key {
	return r.snapshot().keys[id]
}

// GetWebhook returns the webhook registration by id, or nil when unknown.
func (r *Registry) GetWebhook(id string) *Webhook {
	return r.snapshot().webhooks[id]
}

// ResolveKey looks up a key by its bearer token. The token is hashed before
// any lookup so the plaintext never touches the cache or the snapshot.
// Returns nil when no key matches.
func (r *Registry) ResolveKey(token string) *Key {
	hash := HashToken(token)

	if item := r.resolveCache.Get(hash); item != nil {
		return r.snapshot().keys[item.Value()]
	}

	key := r.snapshot().keysByToken[hash]
	if key != nil {
		r.resolveCache.Set(hash, key.ID, ttlcache.DefaultTTL)
	}
	return key
}

// PlanForKey resolves the plan a key is billed under.
func (r *Registry) PlanForKey(key *Key) *Plan {
	if key == nil {
		return nil
	}
	return r.snapshot().plans[key.PlanID]
}

// WebhooksForEvent returns the active registrations subscribed to the given
// tenant and event type.
func (r *Registry) WebhooksForEvent(tenantID, eventType string) []*Webhook {
	snap := r.snapshot()
	var matched []*Webhook
	for _, w := range snap.webhooks {
		if w.TenantID == tenantID && w.Subscribes(eventType) {
			matched = append(matched, w)
		}
	}
	return matched
}

// Stats returns the sizes of the current snapshot.
func (r *Registry) Stats() (plans, keys, webhooks int) {
	snap := r.snapshot()
	return len(snap.plans), len(snap.keys), len(snap.webhooks)
}

// Close stops the reload watcher and the resolve cache.
func (r *Registry) Close() error {
	if r.watcher != nil {
		r.watcher.stop()
	}
	r.resolveCache.Stop()
	return nil
}

// HashToken returns the hex SHA-256 digest of a bearer token. Registries
// store only this digest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateToken issues a fresh bearer token and its storable hash.
func GenerateToken() (token, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	token = TokenPrefix + hex.EncodeToString(raw)
	return token, HashToken(token), nil
}
