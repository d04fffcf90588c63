package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHSetHGet(t *testing.T) {
	db, _ := newTestDB(t)

	n, err := db.HSet("h", FieldValue{"f1", []byte("v1")}, FieldValue{"f2", []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	v, err := db.HGet("h", "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	v, err = db.HGet("h", "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

// Re-setting a field overwrites in place.
func TestHSetOverwrite(t *testing.T) {
	db, _ := newTestDB(t)

	n, err := db.HSet("h", FieldValue{"f", []byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = db.HSet("h", FieldValue{"f", []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	v, _ := db.HGet("h", "f")
	assert.Equal(t, []byte("v2"), v)

	l, _ := db.HLen("h")
	assert.Equal(t, int64(1), l)
}

func TestHGetAllKeysVals(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.HSet("h", FieldValue{"a", []byte("1")}, FieldValue{"b", []byte("2")})
	require.NoError(t, err)

	all, err := db.HGetAll("h")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	keys, _ := db.HKeys("h")
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	vals, _ := db.HVals("h")
	assert.ElementsMatch(t, [][]byte{[]byte("1"), []byte("2")}, vals)
}

func TestHMGet(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.HSet("h", FieldValue{"a", []byte("1")})
	require.NoError(t, err)

	got, err := db.HMGet("h", "a", "nope")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got[0])
	assert.Nil(t, got[1])
}

func TestHDelLastFieldDeletesKey(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.HSet("h", FieldValue{"a", []byte("1")}, FieldValue{"b", []byte("2")})
	require.NoError(t, err)

	n, err := db.HDel("h", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, _ := db.HExists("h", "b")
	assert.True(t, exists)

	n, err = db.HDel("h", "b", "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	typ, _ := db.Type("h")
	assert.Equal(t, "none", typ)
}

func TestHIncrBy(t *testing.T) {
	db, _ := newTestDB(t)

	n, err := db.HIncrBy("h", "count", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = db.HIncrBy("h", "count", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = db.HSet("h", FieldValue{"text", []byte("abc")})
	require.NoError(t, err)
	_, err = db.HIncrBy("h", "text", 1)
	assert.ErrorIs(t, err, ErrNotInteger)
}

func TestHashWrongType(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.Set("s", []byte("v"), SetOptions{})
	require.NoError(t, err)

	_, err = db.HSet("s", FieldValue{"f", []byte("v")})
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = db.HGet("s", "f")
	assert.ErrorIs(t, err, ErrWrongType)
}
