package badger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metastore/storetest"
)

func TestBadgerStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) metastore.Store {
		s, err := New(Config{Path: t.TempDir()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStoreRequiresPath(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
