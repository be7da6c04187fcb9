package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ObjectRepo implements ObjectRepository using PostgreSQL.
type ObjectRepo struct{ db *DB }

// NewObjectRepo constructs an object repository.
func NewObjectRepo(db *DB) *ObjectRepo { return &ObjectRepo{db: db} }

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	return err
}

// Create inserts the object header and its initial entries in one transaction.
func (r *ObjectRepo) Create(ctx context.Context, obj model.Object, entries []model.Entry) error {
	const insObj = `
INSERT INTO objects (name, type_tag, owner_id, meta_name, meta_description)
VALUES ($1, $2, $3, $4, $5)`
	const insEntry = `INSERT INTO entries (obj_name, type_tag, key, value, version) VALUES ($1,$2,$3,$4,$5)`

	owner := uuid.NullUUID{UUID: obj.OwnerID, Valid: obj.OwnerID != uuid.Nil}
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insObj, obj.Address.Name, obj.Address.TypeTag, owner, obj.Name, obj.Description)
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := tx.Exec(ctx, insEntry, obj.Address.Name, obj.Address.TypeTag, e.Key, e.Value.Data, e.Value.Version); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get selects an object header.
func (r *ObjectRepo) Get(ctx context.Context, addr model.Address) (*model.Object, error) {
	const q = `
SELECT owner_id, meta_name, meta_description, perm_version, created_at
FROM objects WHERE name=$1 AND type_tag=$2`
	o := model.Object{Address: addr}
	var owner uuid.NullUUID
	err := r.db.Pool.QueryRow(ctx, q, addr.Name, addr.TypeTag).
		Scan(&owner, &o.Name, &o.Description, &o.PermVersion, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if owner.Valid {
		o.OwnerID = owner.UUID
	}
	return &o, nil
}

// Entries returns entries in insertion order. A missing object is errs.ErrNotFound.
func (r *ObjectRepo) Entries(ctx context.Context, addr model.Address) ([]model.Entry, error) {
	if _, err := r.Get(ctx, addr); err != nil {
		return nil, err
	}
	const q = `
SELECT key, value, version
FROM entries
WHERE obj_name=$1 AND type_tag=$2
ORDER BY seq ASC`
	rows, err := r.db.Pool.Query(ctx, q, addr.Name, addr.TypeTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Entry{}
	for rows.Next() {
		var e model.Entry
		if err = rows.Scan(&e.Key, &e.Value.Data, &e.Value.Version); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Value returns one entry; a missing key or object is errs.ErrNotFound.
func (r *ObjectRepo) Value(ctx context.Context, addr model.Address, key []byte) (model.Value, error) {
	const q = `SELECT value, version FROM entries WHERE obj_name=$1 AND type_tag=$2 AND key=$3`
	var v model.Value
	if err := r.db.Pool.QueryRow(ctx, q, addr.Name, addr.TypeTag, key).Scan(&v.Data, &v.Version); err != nil {
		return model.Value{}, notFound(err)
	}
	return v, nil
}

// Apply locks the object and commits every op or none.
// Inserts need the key to be absent; updates need Version == current + 1.
func (r *ObjectRepo) Apply(ctx context.Context, addr model.Address, ops []model.EntryOp) error {
	const lock = `SELECT perm_version FROM objects WHERE name=$1 AND type_tag=$2 FOR UPDATE`
	const sel = `SELECT version FROM entries WHERE obj_name=$1 AND type_tag=$2 AND key=$3 FOR UPDATE`
	const ins = `INSERT INTO entries (obj_name, type_tag, key, value, version) VALUES ($1,$2,$3,$4,$5)`
	const upd = `UPDATE entries SET value=$4, version=$5 WHERE obj_name=$1 AND type_tag=$2 AND key=$3`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var permVer uint64
		if err := tx.QueryRow(ctx, lock, addr.Name, addr.TypeTag).Scan(&permVer); err != nil {
			return notFound(err)
		}
		for i, op := range ops {
			var cur uint64
			scanErr := tx.QueryRow(ctx, sel, addr.Name, addr.TypeTag, op.Key).Scan(&cur)
			switch {
			case scanErr == nil:
				if op.Kind == model.OpInsert {
					return fmt.Errorf("op[%d]: %w", i, errs.ErrAlreadyExists)
				}
				if op.Version != cur+1 {
					return fmt.Errorf("op[%d]: %w", i, errs.ErrVersionConflict)
				}
				if _, err := tx.Exec(ctx, upd, addr.Name, addr.TypeTag, op.Key, op.Value, op.Version); err != nil {
					return err
				}
			case errors.Is(scanErr, pgx.ErrNoRows):
				if op.Kind == model.OpUpdate {
					return fmt.Errorf("op[%d]: %w", i, errs.ErrNotFound)
				}
				if _, err := tx.Exec(ctx, ins, addr.Name, addr.TypeTag, op.Key, op.Value, uint64(0)); err != nil {
					return err
				}
			default:
				return scanErr
			}
		}
		return nil
	})
}

// Permissions returns the permission sets of the object ordered by principal.
func (r *ObjectRepo) Permissions(ctx context.Context, addr model.Address) ([]model.PermissionSet, error) {
	const q = `
SELECT principal, allow, version
FROM permissions
WHERE obj_name=$1 AND type_tag=$2
ORDER BY principal ASC`
	rows, err := r.db.Pool.Query(ctx, q, addr.Name, addr.TypeTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PermissionSet
	for rows.Next() {
		var (
			set   model.PermissionSet
			allow []string
		)
		if err = rows.Scan(&set.Principal, &allow, &set.Version); err != nil {
			return nil, err
		}
		for _, a := range allow {
			set.Allow = append(set.Allow, model.Permission(a))
		}
		out = append(out, set)
	}
	return out, rows.Err()
}

// SetPermissions replaces the permission set of set.Principal and bumps the object's permission version.
func (r *ObjectRepo) SetPermissions(ctx context.Context, addr model.Address, set model.PermissionSet) error {
	const lock = `SELECT perm_version FROM objects WHERE name=$1 AND type_tag=$2 FOR UPDATE`
	const upsert = `
INSERT INTO permissions (obj_name, type_tag, principal, allow, version)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (obj_name, type_tag, principal)
DO UPDATE SET allow=EXCLUDED.allow, version=EXCLUDED.version`
	const bump = `UPDATE objects SET perm_version=$3 WHERE name=$1 AND type_tag=$2`

	allow := make([]string, 0, len(set.Allow))
	for _, p := range set.Allow {
		allow = append(allow, string(p))
	}
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var cur uint64
		if err := tx.QueryRow(ctx, lock, addr.Name, addr.TypeTag).Scan(&cur); err != nil {
			return notFound(err)
		}
		if set.Version != cur+1 {
			return errs.ErrVersionConflict
		}
		if _, err := tx.Exec(ctx, upsert, addr.Name, addr.TypeTag, set.Principal, allow, set.Version); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, bump, addr.Name, addr.TypeTag, set.Version)
		return err
	})
}
