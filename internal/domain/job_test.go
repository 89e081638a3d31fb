package domain

import (
	"testing"
)

func TestParseJob_Variants(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind JobKind
	}{
		{"sync", `{"id":"j1","type":"sync","provider":"bunjang","external_id":"42"}`, JobKindSync},
		{"update", `{"id":"j2","type":"update","provider":"bunjang","external_id":"42"}`, JobKindUpdate},
		{"delete", `{"id":"j3","type":"delete","provider":"bunjang","external_id":"42"}`, JobKindDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := ParseJob([]byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Kind() != tt.wantKind {
				t.Errorf("kind = %s, want %s", job.Kind(), tt.wantKind)
			}
			provider, externalID := job.Subject()
			if provider != "bunjang" || externalID != "42" {
				t.Errorf("subject = (%s, %s), want (bunjang, 42)", provider, externalID)
			}
		})
	}
}

func TestParseJob_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"missing external_id", `{"id":"j1","type":"sync","provider":"bunjang"}`},
		{"missing provider", `{"id":"j1","type":"sync","external_id":"42"}`},
		{"unknown type", `{"id":"j1","type":"reindex","provider":"bunjang","external_id":"42"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJob([]byte(tt.payload)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestEncodeJob_RoundTrip(t *testing.T) {
	original := DeleteJob{ID: "j9", Provider: "joongna", ExternalID: "77"}

	data, err := EncodeJob(original)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	parsed, err := ParseJob(data)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Kind() != JobKindDelete || parsed.JobID() != "j9" {
		t.Errorf("round trip lost fields: %+v", parsed)
	}
}
