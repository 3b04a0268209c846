package memstore

import (
	"testing"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage"
	"github.com/m3rciful/leakbot/app/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, storagetest.Harness{
		New: func(*testing.T) storage.Store { return New() },
		SeedLeaks: func(_ *testing.T, s storage.Store, leaks []domain.Leak) {
			for _, l := range leaks {
				s.(*Store).AddLeak(l)
			}
		},
	})
}
