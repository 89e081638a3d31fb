package service

import (
	"testing"

	"github.com/google/uuid"
)

func TestDeriveVectorKey_Deterministic(t *testing.T) {
	a := DeriveVectorKey("bunjang", "12345")
	b := DeriveVectorKey("bunjang", "12345")

	if a != b {
		t.Errorf("same identity produced different keys: %q vs %q", a, b)
	}

	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("derived key is not a valid UUID: %v", err)
	}
	if parsed.Version() != 5 {
		t.Errorf("expected UUIDv5, got version %d", parsed.Version())
	}
}

func TestDeriveVectorKey_DistinctIdentities(t *testing.T) {
	tests := []struct {
		name                 string
		providerA, externalA string
		providerB, externalB string
	}{
		{"different external IDs", "bunjang", "1", "bunjang", "2"},
		{"different providers", "bunjang", "1", "joongna", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DeriveVectorKey(tt.providerA, tt.externalA)
			b := DeriveVectorKey(tt.providerB, tt.externalB)
			if a == b {
				t.Errorf("distinct identities collided: %q", a)
			}
		})
	}
}
