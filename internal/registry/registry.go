package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipnet-mesh/meshbot/internal/meshid"
	"github.com/ipnet-mesh/meshbot/internal/models"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

// Registry tracks node identity, naming and presence on top of the record
// store. Upserts are read-modify-write, so each identity is serialized
// through its own mutex; distinct identities proceed concurrently.
type Registry struct {
	store store.RecordStore
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a registry backed by the given store.
func New(s store.RecordStore, log zerolog.Logger) *Registry {
	return &Registry{
		store: s,
		log:   log.With().Str("component", "registry").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *Registry) identityLock(identity string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		r.locks[identity] = l
	}
	return l
}

// Presence is what a sighting reports about a node's reachability.
type Presence int

const (
	// PresenceUnknown means the sighting carries no reachability
	// information and leaves the stored flag alone.
	PresenceUnknown Presence = iota
	PresenceOnline
	PresenceOffline
)

// Observation is what a single sighting of a node carries. Zero-value
// fields mean "not observed": an empty Name never erases a stored name,
// and PresenceUnknown never flips the online flag.
type Observation struct {
	Identity string
	Name     string
	Presence Presence
	SeenAt   float64
}

// Upsert merges one sighting into the node's record. first_seen is set once
// and never moves; last_seen only moves forward.
func (r *Registry) Upsert(ctx context.Context, obs Observation) (*models.NodeRecord, error) {
	if err := meshid.Validate(obs.Identity); err != nil {
		return nil, err
	}
	if obs.SeenAt == 0 {
		obs.SeenAt = float64(time.Now().UnixNano()) / 1e9
	}

	lock := r.identityLock(obs.Identity)
	lock.Lock()
	defer lock.Unlock()

	node, err := r.store.GetNode(ctx, obs.Identity)
	if err != nil {
		return nil, fmt.Errorf("load node: %w", err)
	}
	if node == nil {
		node = &models.NodeRecord{
			Identity:  obs.Identity,
			FirstSeen: obs.SeenAt,
		}
		r.log.Debug().Str("node", meshid.Prefix(obs.Identity)).Msg("new node discovered")
	}
	if obs.Name != "" {
		node.Name = obs.Name
	}
	switch obs.Presence {
	case PresenceOnline:
		node.IsOnline = true
	case PresenceOffline:
		node.IsOnline = false
	}
	if obs.SeenAt > node.LastSeen {
		node.LastSeen = obs.SeenAt
	}

	if err := r.store.PutNode(ctx, node); err != nil {
		return nil, fmt.Errorf("store node: %w", err)
	}
	return node, nil
}

// RecordAdvert merges an advertisement sighting: the upsert plus the advert
// counter and timestamp. An advertisement always marks the node online.
func (r *Registry) RecordAdvert(ctx context.Context, obs Observation) (*models.NodeRecord, error) {
	if err := meshid.Validate(obs.Identity); err != nil {
		return nil, err
	}
	if obs.SeenAt == 0 {
		obs.SeenAt = float64(time.Now().UnixNano()) / 1e9
	}

	lock := r.identityLock(obs.Identity)
	lock.Lock()
	defer lock.Unlock()

	node, err := r.store.GetNode(ctx, obs.Identity)
	if err != nil {
		return nil, fmt.Errorf("load node: %w", err)
	}
	if node == nil {
		node = &models.NodeRecord{
			Identity:  obs.Identity,
			FirstSeen: obs.SeenAt,
		}
	}
	if obs.Name != "" {
		node.Name = obs.Name
	}
	node.IsOnline = true
	node.TotalAdverts++
	node.LastAdvert = obs.SeenAt
	if obs.SeenAt > node.LastSeen {
		node.LastSeen = obs.SeenAt
	}

	if err := r.store.PutNode(ctx, node); err != nil {
		return nil, fmt.Errorf("store node: %w", err)
	}
	return node, nil
}

// Get returns the node record, or (nil, nil) when unknown.
func (r *Registry) Get(ctx context.Context, identity string) (*models.NodeRecord, error) {
	return r.store.GetNode(ctx, identity)
}

// ResolveName finds the node whose display name matches exactly,
// case-insensitively. Returns (nil, nil) when no node carries the name.
func (r *Registry) ResolveName(ctx context.Context, name string) (*models.NodeRecord, error) {
	if name == "" {
		return nil, nil
	}
	nodes, err := r.store.ListNodes(ctx, store.NodeFilter{NamedOnly: true})
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if strings.EqualFold(nodes[i].Name, name) {
			return &nodes[i], nil
		}
	}
	return nil, nil
}

// ResolvePrefix finds the node whose identity starts with the given prefix.
// Ambiguous prefixes (more than one match) resolve to nothing.
func (r *Registry) ResolvePrefix(ctx context.Context, prefix string) (*models.NodeRecord, error) {
	if prefix == "" {
		return nil, nil
	}
	nodes, err := r.store.ListNodes(ctx, store.NodeFilter{})
	if err != nil {
		return nil, err
	}
	var found *models.NodeRecord
	for i := range nodes {
		if strings.HasPrefix(nodes[i].Identity, prefix) {
			if found != nil {
				return nil, nil
			}
			found = &nodes[i]
		}
	}
	return found, nil
}

// DisplayName returns the node's name when known, and the short identity
// prefix otherwise.
func (r *Registry) DisplayName(ctx context.Context, identity string) string {
	node, err := r.store.GetNode(ctx, identity)
	if err == nil && node != nil && node.Name != "" {
		return node.Name
	}
	return meshid.Prefix(identity)
}

// List returns nodes ordered newest-seen first.
func (r *Registry) List(ctx context.Context, filter store.NodeFilter) ([]models.NodeRecord, error) {
	return r.store.ListNodes(ctx, filter)
}

// MarkOffline clears the online flag without touching seen timestamps.
func (r *Registry) MarkOffline(ctx context.Context, identity string) error {
	lock := r.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	node, err := r.store.GetNode(ctx, identity)
	if err != nil || node == nil {
		return err
	}
	if !node.IsOnline {
		return nil
	}
	node.IsOnline = false
	return r.store.PutNode(ctx, node)
}
