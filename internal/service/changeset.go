package service

import (
	"sort"

	"github.com/jaehyuksim/catsync/internal/domain"
)

// ChangeSet is the work a sync run has to do: source records whose
// vectors are missing or stale, and indexed vectors whose source
// records are gone or inactive.
type ChangeSet struct {
	ToUpsert []domain.SourceKey
	ToDelete []domain.SourceKey
}

// Empty reports whether the run has nothing to do.
func (c *ChangeSet) Empty() bool {
	return len(c.ToUpsert) == 0 && len(c.ToDelete) == 0
}

// ResolveChangeSet diffs the active source keys against the indexed
// keys. A source record goes to ToUpsert when its exact
// (identity, updatedAt) pair is absent from the index; a record with a
// stale timestamp is therefore an upsert, never a delete. An indexed
// key goes to ToDelete only when its identity has no active source
// record at all. Both slices come back in stable
// (provider, externalID) order so batch splitting is deterministic.
func ResolveChangeSet(src, indexed []domain.SourceKey) ChangeSet {
	indexedPairs := make(map[domain.SourceKey]struct{}, len(indexed))
	for _, k := range indexed {
		indexedPairs[k] = struct{}{}
	}

	srcIdentities := make(map[string]struct{}, len(src))
	for _, k := range src {
		srcIdentities[k.Identity()] = struct{}{}
	}

	var cs ChangeSet
	for _, k := range src {
		if _, ok := indexedPairs[k]; !ok {
			cs.ToUpsert = append(cs.ToUpsert, k)
		}
	}

	seen := make(map[string]struct{})
	for _, k := range indexed {
		identity := k.Identity()
		if _, active := srcIdentities[identity]; active {
			continue
		}
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		cs.ToDelete = append(cs.ToDelete, k)
	}

	sortKeys(cs.ToUpsert)
	sortKeys(cs.ToDelete)
	return cs
}

func sortKeys(keys []domain.SourceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Provider != keys[j].Provider {
			return keys[i].Provider < keys[j].Provider
		}
		return keys[i].ExternalID < keys[j].ExternalID
	})
}
