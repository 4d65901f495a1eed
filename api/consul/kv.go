package consul

import (
	"context"
	"encoding/json"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"

	"switchyard/api/model"
)

// KVRegistry keeps the registry document under one Consul KV key. Writes
// use check-and-set against the index last read, so a writer that lost a
// race fails instead of overwriting.
type KVRegistry struct {
	kv  *consulapi.KV
	key string
}

// Registry returns a registry backend for app under prefix.
func (c *Client) Registry(prefix, app string) *KVRegistry {
	return &KVRegistry{kv: c.api.KV(), key: RegistryKey(prefix, app)}
}

func RegistryKey(prefix, app string) string {
	if prefix == "" {
		prefix = "switchyard"
	}
	return prefix + "/" + app + "/registry"
}

func (r *KVRegistry) Load(ctx context.Context) (*model.RegistryState, error) {
	pair, _, err := r.kv.Get(r.key, (&consulapi.QueryOptions{RequireConsistent: true}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul get %s: %w", r.key, err)
	}
	if pair == nil {
		return nil, model.ErrNotFound
	}
	var st model.RegistryState
	if err := json.Unmarshal(pair.Value, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.key, err)
	}
	return &st, nil
}

func (r *KVRegistry) Save(ctx context.Context, st *model.RegistryState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	var index uint64
	pair, _, err := r.kv.Get(r.key, (&consulapi.QueryOptions{RequireConsistent: true}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("consul get %s: %w", r.key, err)
	}
	if pair != nil {
		index = pair.ModifyIndex
	}

	ok, _, err := r.kv.CAS(&consulapi.KVPair{Key: r.key, Value: data, ModifyIndex: index}, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("consul cas %s: %w", r.key, err)
	}
	if !ok {
		return fmt.Errorf("consul cas %s: modified concurrently", r.key)
	}
	return nil
}
