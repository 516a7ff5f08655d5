package memory

import (
	"testing"

	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/dvloznov/ledger-core/internal/ledger/ledgertest"
)

func TestStoreContract(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.UnitOfWork { return NewStore() })
}
