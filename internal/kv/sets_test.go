package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSAddSMembers(t *testing.T) {
	db, _ := newTestDB(t)

	n, err := db.SAdd("s", bs("a", "b", "c")...)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Duplicates are not re-added.
	n, err = db.SAdd("s", bs("a", "d")...)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	members, err := db.SMembers("s")
	require.NoError(t, err)
	assert.ElementsMatch(t, bs("a", "b", "c", "d"), members)
}

func TestSIsMemberSCard(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.SAdd("s", bs("a", "b")...)
	require.NoError(t, err)

	ok, _ := db.SIsMember("s", []byte("a"))
	assert.True(t, ok)
	ok, _ = db.SIsMember("s", []byte("z"))
	assert.False(t, ok)

	n, _ := db.SCard("s")
	assert.Equal(t, int64(2), n)
}

func TestSRemLastMemberDeletesKey(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.SAdd("s", bs("a")...)
	require.NoError(t, err)

	n, err := db.SRem("s", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	typ, _ := db.Type("s")
	assert.Equal(t, "none", typ)
}

func TestSPop(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.SAdd("s", bs("a", "b", "c")...)
	require.NoError(t, err)

	popped, err := db.SPop("s", 2)
	require.NoError(t, err)
	assert.Len(t, popped, 2)

	n, _ := db.SCard("s")
	assert.Equal(t, int64(1), n)

	popped, err = db.SPop("s", 5)
	require.NoError(t, err)
	assert.Len(t, popped, 1)

	typ, _ := db.Type("s")
	assert.Equal(t, "none", typ)
}

func TestSRandMember(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.SAdd("s", bs("a", "b", "c")...)
	require.NoError(t, err)

	got, err := db.SRandMember("s", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Positive count never exceeds cardinality.
	got, err = db.SRandMember("s", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// Negative count allows repeats.
	got, err = db.SRandMember("s", -5)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	n, _ := db.SCard("s")
	assert.Equal(t, int64(3), n)
}

func TestSetArithmetic(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.SAdd("a", bs("1", "2", "3")...)
	require.NoError(t, err)
	_, err = db.SAdd("b", bs("2", "3", "4")...)
	require.NoError(t, err)

	diff, err := db.SDiff("a", "b")
	require.NoError(t, err)
	assert.ElementsMatch(t, bs("1"), diff)

	inter, err := db.SInter("a", "b")
	require.NoError(t, err)
	assert.ElementsMatch(t, bs("2", "3"), inter)

	union, err := db.SUnion("a", "b")
	require.NoError(t, err)
	assert.ElementsMatch(t, bs("1", "2", "3", "4"), union)

	// A missing operand behaves as the empty set.
	inter, err = db.SInter("a", "missing")
	require.NoError(t, err)
	assert.Empty(t, inter)
}
