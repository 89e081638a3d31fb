package service

import "github.com/google/uuid"

// DeriveVectorKey maps a provider-scoped identity onto a deterministic
// UUIDv5 point ID. The same (provider, externalID) always yields the
// same key, so re-indexing a record overwrites its old vector instead
// of accumulating duplicates.
func DeriveVectorKey(provider, externalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(provider+":"+externalID)).String()
}
