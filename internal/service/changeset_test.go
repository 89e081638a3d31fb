package service

import (
	"testing"

	"github.com/jaehyuksim/catsync/internal/domain"
)

func key(provider, externalID string, updatedAt int64) domain.SourceKey {
	return domain.SourceKey{Provider: provider, ExternalID: externalID, UpdatedAt: updatedAt}
}

func TestResolveChangeSet_NewAndGone(t *testing.T) {
	// Source has A (unchanged) and B (new); index has A and C (gone).
	src := []domain.SourceKey{key("p", "A", 100), key("p", "B", 200)}
	indexed := []domain.SourceKey{key("p", "A", 100), key("p", "C", 300)}

	cs := ResolveChangeSet(src, indexed)

	if len(cs.ToUpsert) != 1 || cs.ToUpsert[0].ExternalID != "B" {
		t.Errorf("expected ToUpsert = [B], got %v", cs.ToUpsert)
	}
	if len(cs.ToDelete) != 1 || cs.ToDelete[0].ExternalID != "C" {
		t.Errorf("expected ToDelete = [C], got %v", cs.ToDelete)
	}
}

func TestResolveChangeSet_StaleTimestampIsUpsertNotDelete(t *testing.T) {
	src := []domain.SourceKey{key("p", "A", 200)}
	indexed := []domain.SourceKey{key("p", "A", 100)}

	cs := ResolveChangeSet(src, indexed)

	if len(cs.ToUpsert) != 1 || cs.ToUpsert[0].UpdatedAt != 200 {
		t.Errorf("expected stale A in ToUpsert, got %v", cs.ToUpsert)
	}
	// A still has an active source record, so its indexed entry must
	// not be scheduled for deletion even though the pair differs.
	if len(cs.ToDelete) != 0 {
		t.Errorf("expected empty ToDelete, got %v", cs.ToDelete)
	}
}

func TestResolveChangeSet_ProviderScopedIdentity(t *testing.T) {
	src := []domain.SourceKey{key("bunjang", "1", 100)}
	indexed := []domain.SourceKey{key("joongna", "1", 100)}

	cs := ResolveChangeSet(src, indexed)

	if len(cs.ToUpsert) != 1 {
		t.Errorf("expected bunjang:1 in ToUpsert, got %v", cs.ToUpsert)
	}
	if len(cs.ToDelete) != 1 || cs.ToDelete[0].Provider != "joongna" {
		t.Errorf("expected joongna:1 in ToDelete, got %v", cs.ToDelete)
	}
}

func TestResolveChangeSet_StableOrder(t *testing.T) {
	src := []domain.SourceKey{
		key("z", "2", 1),
		key("a", "9", 1),
		key("a", "1", 1),
		key("z", "1", 1),
	}

	cs := ResolveChangeSet(src, nil)

	want := []string{"a:1", "a:9", "z:1", "z:2"}
	if len(cs.ToUpsert) != len(want) {
		t.Fatalf("expected %d upserts, got %d", len(want), len(cs.ToUpsert))
	}
	for i, w := range want {
		if cs.ToUpsert[i].Identity() != w {
			t.Errorf("position %d: expected %s, got %s", i, w, cs.ToUpsert[i].Identity())
		}
	}
}

func TestResolveChangeSet_Empty(t *testing.T) {
	same := []domain.SourceKey{key("p", "A", 100)}
	cs := ResolveChangeSet(same, same)
	if !cs.Empty() {
		t.Errorf("expected converged stores to produce an empty change set, got %+v", cs)
	}
}
