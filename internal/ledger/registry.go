package ledger

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
)

const registryDegree = 16

type ownerKey struct {
	owner   common.Address
	tokenID uint64
}

// Registry indexes records by token id and staked records by owner.
// Iteration is ordered so hashing and snapshots are deterministic.
// Not thread-safe; only accessed from the single-writer engine.
type Registry struct {
	byToken *btree.BTreeG[*Record]
	byOwner *btree.BTreeG[ownerKey]
	indexed map[uint64]common.Address // token -> owner currently in byOwner
}

func NewRegistry() *Registry {
	return &Registry{
		byToken: btree.NewG(registryDegree, func(a, b *Record) bool {
			return a.TokenID < b.TokenID
		}),
		byOwner: btree.NewG(registryDegree, func(a, b ownerKey) bool {
			if c := bytes.Compare(a.owner[:], b.owner[:]); c != 0 {
				return c < 0
			}
			return a.tokenID < b.tokenID
		}),
		indexed: make(map[uint64]common.Address),
	}
}

// Get returns the live record for tokenID (not a copy).
func (r *Registry) Get(tokenID uint64) (*Record, bool) {
	return r.byToken.Get(&Record{TokenID: tokenID})
}

// Put inserts or replaces a record and keeps the owner index in sync.
func (r *Registry) Put(rec *Record) {
	r.byToken.ReplaceOrInsert(rec)
	if owner, ok := r.indexed[rec.TokenID]; ok {
		r.byOwner.Delete(ownerKey{owner: owner, tokenID: rec.TokenID})
		delete(r.indexed, rec.TokenID)
	}
	if rec.Staked {
		r.byOwner.ReplaceOrInsert(ownerKey{owner: rec.Owner, tokenID: rec.TokenID})
		r.indexed[rec.TokenID] = rec.Owner
	}
}

// Len returns the number of known records, staked or not.
func (r *Registry) Len() int {
	return r.byToken.Len()
}

// AscendStaked visits staked records in token-id order until fn returns false.
func (r *Registry) AscendStaked(fn func(rec *Record) bool) {
	r.byToken.Ascend(func(rec *Record) bool {
		if !rec.Staked {
			return true
		}
		return fn(rec)
	})
}

// All returns every record in token-id order.
func (r *Registry) All() []*Record {
	out := make([]*Record, 0, r.byToken.Len())
	r.byToken.Ascend(func(rec *Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// StakedByOwner returns the token ids currently staked by owner, ascending.
func (r *Registry) StakedByOwner(owner common.Address) []uint64 {
	var ids []uint64
	r.byOwner.AscendGreaterOrEqual(ownerKey{owner: owner}, func(k ownerKey) bool {
		if k.owner != owner {
			return false
		}
		ids = append(ids, k.tokenID)
		return true
	})
	return ids
}
