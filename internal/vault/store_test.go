package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(newTestCipher(t))
}

func TestStore_AddGetOpen(t *testing.T) {
	store := newTestStore(t)

	details := Details{Summary: "credential stuffing", Severity: "high", Notes: "single /24"}
	added, err := store.Add("perimeter sweep", details)
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)

	record, ok := store.Get(added.ID)
	require.True(t, ok)

	opened, err := store.Open(record)
	require.NoError(t, err)
	assert.Equal(t, details, opened)
}

func TestStore_GetUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, ok := store.Get("missing")
	assert.False(t, ok)
}

func TestStore_ListIsSanitized(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Add("first", Details{Summary: "a"})
	require.NoError(t, err)
	_, err = store.Add("second", Details{Summary: "b"})
	require.NoError(t, err)

	records := store.List()
	require.Len(t, records, 2)

	// Listed records carry no payload; only Get yields an openable record.
	for _, record := range records {
		_, err := store.Open(record)
		var integrity *DataIntegrityError
		assert.ErrorAs(t, err, &integrity)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Add("first", Details{})
	require.NoError(t, err)
	second, err := store.Add("second", Details{})
	require.NoError(t, err)

	records := store.List()
	require.Len(t, records, 2)
	if records[0].CreatedAt.Equal(records[1].CreatedAt) {
		t.Skip("timestamps collided; ordering not observable")
	}
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

func TestSeedDemo(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, SeedDemo(store))

	records := store.List()
	assert.Len(t, records, 2)
	for _, listed := range records {
		record, ok := store.Get(listed.ID)
		require.True(t, ok)
		details, err := store.Open(record)
		require.NoError(t, err)
		assert.NotEmpty(t, details.Summary)
	}
}
