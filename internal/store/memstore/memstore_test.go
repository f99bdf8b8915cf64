package memstore

import (
	"testing"

	"github.com/iurnickita/hrbonus/internal/store"
	"github.com/iurnickita/hrbonus/internal/store/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
