package snapshot

import (
	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// FilterStoragesForIncremental keeps the storages written after base.
func FilterStoragesForIncremental(entries []*accounts.StorageEntry, base domain.Slot) []*accounts.StorageEntry {
	out := make([]*accounts.StorageEntry, 0, len(entries))
	for _, e := range entries {
		if e.Slot() > base {
			out = append(out, e)
		}
	}
	return out
}
