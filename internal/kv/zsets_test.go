package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(ms []ZMember) [][]byte {
	out := make([][]byte, len(ms))
	for i, m := range ms {
		out[i] = m.Member
	}
	return out
}

// ZRANGE orders by score ascending; ZREVRANGE reverses.
func TestZRangeOrder(t *testing.T) {
	db, _ := newTestDB(t)

	n, err := db.ZAdd("z",
		ZMember{[]byte("c"), 3},
		ZMember{[]byte("a"), 1},
		ZMember{[]byte("b"), 2},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := db.ZRange("z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, bs("a", "b", "c"), members(got))

	rev, err := db.ZRevRange("z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, bs("c", "b", "a"), members(rev))

	byScore, err := db.ZRangeByScore("z", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, bs("b", "c"), members(byScore))
}

func TestZOrderTiesByMember(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.ZAdd("z",
		ZMember{[]byte("bb"), 1},
		ZMember{[]byte("aa"), 1},
		ZMember{[]byte("cc"), 1},
	)
	require.NoError(t, err)

	got, _ := db.ZRange("z", 0, -1)
	assert.Equal(t, bs("aa", "bb", "cc"), members(got))
}

func TestZAddUpdatesScore(t *testing.T) {
	db, _ := newTestDB(t)

	n, err := db.ZAdd("z", ZMember{[]byte("m"), 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = db.ZAdd("z", ZMember{[]byte("m"), 9})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	score, err := db.ZScore("z", []byte("m"))
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, 9.0, *score)
}

func TestZCountMatchesPredicate(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.ZAdd("z",
		ZMember{[]byte("a"), 1},
		ZMember{[]byte("b"), 2},
		ZMember{[]byte("c"), 3},
	)
	require.NoError(t, err)

	n, err := db.ZCount("z", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.ZCount("z", 5, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestZRankZRevRank(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.ZAdd("z",
		ZMember{[]byte("a"), 1},
		ZMember{[]byte("b"), 2},
		ZMember{[]byte("c"), 3},
	)
	require.NoError(t, err)

	r, err := db.ZRank("z", []byte("b"))
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(1), *r)

	r, err = db.ZRevRank("z", []byte("b"))
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(1), *r)

	r, err = db.ZRank("z", []byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestZIncrBy(t *testing.T) {
	db, _ := newTestDB(t)

	v, err := db.ZIncrBy("z", 2.5, []byte("m"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = db.ZIncrBy("z", 1.5, []byte("m"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
}

func TestZRemLastMemberDeletesKey(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.ZAdd("z", ZMember{[]byte("m"), 1})
	require.NoError(t, err)

	n, err := db.ZRem("z", []byte("m"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	typ, _ := db.Type("z")
	assert.Equal(t, "none", typ)
}

func TestZUnionStore(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.ZAdd("z1", ZMember{[]byte("a"), 1}, ZMember{[]byte("b"), 2})
	require.NoError(t, err)
	_, err = db.ZAdd("z2", ZMember{[]byte("b"), 3}, ZMember{[]byte("c"), 4})
	require.NoError(t, err)

	n, err := db.ZUnionStore("out", []string{"z1", "z2"}, nil, AggSum)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	score, _ := db.ZScore("out", []byte("b"))
	require.NotNil(t, score)
	assert.Equal(t, 5.0, *score)
}

func TestZInterStoreWeightsAggregate(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.ZAdd("z1", ZMember{[]byte("a"), 1}, ZMember{[]byte("b"), 2})
	require.NoError(t, err)
	_, err = db.ZAdd("z2", ZMember{[]byte("b"), 3}, ZMember{[]byte("c"), 4})
	require.NoError(t, err)

	n, err := db.ZInterStore("out", []string{"z1", "z2"}, []float64{10, 1}, AggMax)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	score, _ := db.ZScore("out", []byte("b"))
	require.NotNil(t, score)
	assert.Equal(t, 20.0, *score)
}

func TestZStoreReplacesDestination(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.ZAdd("out", ZMember{[]byte("old"), 1})
	require.NoError(t, err)
	_, err = db.ZAdd("z1", ZMember{[]byte("new"), 2})
	require.NoError(t, err)

	n, err := db.ZUnionStore("out", []string{"z1"}, nil, AggSum)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	score, _ := db.ZScore("out", []byte("old"))
	assert.Nil(t, score)
}
