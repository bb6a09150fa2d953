package memory_test

import (
	"testing"

	"github.com/hydranotes/hydra/pkg/store"
	"github.com/hydranotes/hydra/pkg/store/memory"
	"github.com/hydranotes/hydra/pkg/store/storetest"
	"github.com/stretchr/testify/suite"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		NewStore: func(t *testing.T) store.Store { return memory.New() },
		Rollback: true,
	})
}
