package fs

import (
	"circlereports/internal/infra/persistence/persistencetest"
	"circlereports/pkg/domain"
	"testing"
)

func TestStoreContract(t *testing.T) {
	persistencetest.RunContract(t, func(t *testing.T) domain.Storage {
		store, err := New(t.TempDir(), "", "")
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return store
	})
}
