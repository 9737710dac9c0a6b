package p2p

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBanStoreRoundTrip(t *testing.T) {
	s := NewMemoryBanStore()
	require.NoError(t, s.Put(NodeID(1)))
	require.NoError(t, s.Put(NodeID(2)))

	ids, err := s.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []NodeID{1, 2}, ids)

	require.NoError(t, s.Delete(NodeID(1)))
	ids, err = s.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []NodeID{2}, ids)
}

func TestLevelDBBanStorePersistsAcrossReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "ban-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := NewLevelDBBanStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(NodeID(0xdead)))
	require.NoError(t, s.Close())

	reopened, err := NewLevelDBBanStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	ids, err := reopened.Load()
	require.NoError(t, err)
	assert.Contains(t, ids, NodeID(0xdead))
}
