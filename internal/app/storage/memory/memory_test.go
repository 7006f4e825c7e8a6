package memory

import (
	"testing"

	"github.com/R3E-Network/storefront/internal/app/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		return New()
	})
}
