// Package convert maps domain types to store wire messages and back.
package convert

import (
	"fmt"

	v1 "github.com/and161185/safe-comments/internal/api/storev1"
	"github.com/and161185/safe-comments/internal/model"
)

// --- Address ---

// ToWireAddress converts a domain address.
func ToWireAddress(a model.Address) v1.Address {
	return v1.Address{Name: a.Name, TypeTag: a.TypeTag}
}

// FromWireAddress validates and converts a wire address.
func FromWireAddress(a v1.Address) (model.Address, error) {
	if len(a.Name) == 0 {
		return model.Address{}, fmt.Errorf("empty address name")
	}
	return model.Address{Name: a.Name, TypeTag: a.TypeTag}, nil
}

// --- Entries ---

// ToWireEntries converts fetched entries.
func ToWireEntries(in []model.Entry) []v1.Entry {
	out := make([]v1.Entry, 0, len(in))
	for _, e := range in {
		out = append(out, v1.Entry{Key: e.Key, Value: e.Value.Data, Version: e.Value.Version})
	}
	return out
}

// FromWireEntries converts wire entries.
func FromWireEntries(in []v1.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(in))
	for _, e := range in {
		out = append(out, model.Entry{Key: e.Key, Value: model.Value{Data: e.Value, Version: e.Version}})
	}
	return out
}

// --- Mutations ---

// ToWireOps converts collected entry operations.
func ToWireOps(in []model.EntryOp) []v1.EntryOp {
	out := make([]v1.EntryOp, 0, len(in))
	for _, op := range in {
		kind := v1.OpInsert
		if op.Kind == model.OpUpdate {
			kind = v1.OpUpdate
		}
		out = append(out, v1.EntryOp{Kind: kind, Key: op.Key, Value: op.Value, Version: op.Version})
	}
	return out
}

// FromWireOps validates and converts a mutation batch.
func FromWireOps(in []v1.EntryOp) ([]model.EntryOp, error) {
	out := make([]model.EntryOp, 0, len(in))
	for i, op := range in {
		var kind model.OpKind
		switch op.Kind {
		case v1.OpInsert:
			kind = model.OpInsert
		case v1.OpUpdate:
			kind = model.OpUpdate
		default:
			return nil, fmt.Errorf("op[%d]: unknown kind %q", i, op.Kind)
		}
		if len(op.Key) == 0 {
			return nil, fmt.Errorf("op[%d]: empty key", i)
		}
		out = append(out, model.EntryOp{Kind: kind, Key: op.Key, Value: op.Value, Version: op.Version})
	}
	return out, nil
}

// --- Permissions ---

// ToWirePermissions converts permissions to their names.
func ToWirePermissions(in []model.Permission) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, string(p))
	}
	return out
}

// FromWirePermissions validates permission names.
func FromWirePermissions(in []string) ([]model.Permission, error) {
	out := make([]model.Permission, 0, len(in))
	for _, s := range in {
		p := model.Permission(s)
		if !p.Valid() {
			return nil, fmt.Errorf("unknown permission %q", s)
		}
		out = append(out, p)
	}
	return out, nil
}

// ToWireContainers converts requested containers.
func ToWireContainers(in model.Containers) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for name, perms := range in {
		out[name] = ToWirePermissions(perms)
	}
	return out
}

// FromWireContainers validates and converts requested containers.
func FromWireContainers(in map[string][]string) (model.Containers, error) {
	out := make(model.Containers, len(in))
	for name, perms := range in {
		if name == "" {
			return nil, fmt.Errorf("empty container name")
		}
		ps, err := FromWirePermissions(perms)
		if err != nil {
			return nil, fmt.Errorf("container %q: %w", name, err)
		}
		out[name] = ps
	}
	return out, nil
}
