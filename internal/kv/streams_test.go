package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXAddAutoID(t *testing.T) {
	db, clock := newTestDB(t)

	id1, err := db.XAdd("s", XAddOptions{}, FieldValue{"f", []byte("1")})
	require.NoError(t, err)
	require.NotNil(t, id1)
	assert.Equal(t, clock.Now().UnixMilli(), id1.Ms)
	assert.Equal(t, int64(0), id1.Seq)

	// Same millisecond: the sequence advances.
	id2, err := db.XAdd("s", XAddOptions{}, FieldValue{"f", []byte("2")})
	require.NoError(t, err)
	assert.Equal(t, id1.Ms, id2.Ms)
	assert.Equal(t, int64(1), id2.Seq)

	clock.Advance(5 * time.Millisecond)
	id3, err := db.XAdd("s", XAddOptions{}, FieldValue{"f", []byte("3")})
	require.NoError(t, err)
	assert.True(t, id2.Less(*id3))
	assert.Equal(t, int64(0), id3.Seq)
}

func TestXAddExplicitIDMustIncrease(t *testing.T) {
	db, _ := newTestDB(t)

	_, err := db.XAdd("s", XAddOptions{ID: "5-1"}, FieldValue{"f", []byte("v")})
	require.NoError(t, err)

	_, err = db.XAdd("s", XAddOptions{ID: "5-1"}, FieldValue{"f", []byte("v")})
	assert.ErrorIs(t, err, ErrStreamID)

	_, err = db.XAdd("s", XAddOptions{ID: "4-9"}, FieldValue{"f", []byte("v")})
	assert.ErrorIs(t, err, ErrStreamID)

	id, err := db.XAdd("s", XAddOptions{ID: "5-2"}, FieldValue{"f", []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, StreamID{Ms: 5, Seq: 2}, *id)
}

func TestXAddNoMkStream(t *testing.T) {
	db, _ := newTestDB(t)

	id, err := db.XAdd("missing", XAddOptions{NoMkStream: true}, FieldValue{"f", []byte("v")})
	require.NoError(t, err)
	assert.Nil(t, id)

	n, _ := db.Exists("missing")
	assert.Equal(t, int64(0), n)
}

func TestXLenXRange(t *testing.T) {
	db, _ := newTestDB(t)
	for i := 1; i <= 3; i++ {
		_, err := db.XAdd("s", XAddOptions{ID: StreamID{Ms: int64(i), Seq: 0}.String()},
			FieldValue{"n", []byte{byte('0' + i)}})
		require.NoError(t, err)
	}

	n, err := db.XLen("s")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := db.XRange("s", MinStreamID, MaxStreamID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, StreamID{Ms: 1}, all[0].ID)
	assert.Equal(t, []FieldValue{{"n", []byte("1")}}, all[0].Fields)

	rev, err := db.XRevRange("s", MinStreamID, MaxStreamID, 2)
	require.NoError(t, err)
	require.Len(t, rev, 2)
	assert.Equal(t, StreamID{Ms: 3}, rev[0].ID)

	mid, err := db.XRange("s", StreamID{Ms: 2}, StreamID{Ms: 2, Seq: 1<<63 - 1}, 0)
	require.NoError(t, err)
	require.Len(t, mid, 1)
	assert.Equal(t, StreamID{Ms: 2}, mid[0].ID)
}

func TestXRead(t *testing.T) {
	db, _ := newTestDB(t)
	for i := 1; i <= 3; i++ {
		_, err := db.XAdd("s", XAddOptions{ID: StreamID{Ms: int64(i)}.String()},
			FieldValue{"f", []byte("v")})
		require.NoError(t, err)
	}

	out, err := db.XRead([]string{"s"}, []StreamID{{Ms: 1, Seq: 0}}, 0)
	require.NoError(t, err)
	require.Len(t, out["s"], 2)
	assert.Equal(t, StreamID{Ms: 2}, out["s"][0].ID)

	out, err = db.XRead([]string{"s"}, []StreamID{{Ms: 3, Seq: 0}}, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestXDelXTrim(t *testing.T) {
	db, _ := newTestDB(t)
	for i := 1; i <= 5; i++ {
		_, err := db.XAdd("s", XAddOptions{ID: StreamID{Ms: int64(i)}.String()},
			FieldValue{"f", []byte("v")})
		require.NoError(t, err)
	}

	n, err := db.XDel("s", StreamID{Ms: 2}, StreamID{Ms: 99})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = db.XTrim("s", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, _ := db.XRange("s", MinStreamID, MaxStreamID, 0)
	require.Len(t, left, 2)
	assert.Equal(t, StreamID{Ms: 4}, left[0].ID)
	assert.Equal(t, StreamID{Ms: 5}, left[1].ID)

	minID := StreamID{Ms: 5}
	n, err = db.XTrim("s", 0, &minID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestXAddMaxLenTrims(t *testing.T) {
	db, _ := newTestDB(t)
	for i := 1; i <= 4; i++ {
		_, err := db.XAdd("s", XAddOptions{ID: StreamID{Ms: int64(i)}.String(), MaxLen: 2},
			FieldValue{"f", []byte("v")})
		require.NoError(t, err)
	}

	n, _ := db.XLen("s")
	assert.Equal(t, int64(2), n)
}

func TestXDelLastEntryDeletesKey(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.XAdd("s", XAddOptions{ID: "1-0"}, FieldValue{"f", []byte("v")})
	require.NoError(t, err)

	_, err = db.XDel("s", StreamID{Ms: 1})
	require.NoError(t, err)

	typ, _ := db.Type("s")
	assert.Equal(t, "none", typ)
}

func TestStreamFieldsBinarySafe(t *testing.T) {
	db, _ := newTestDB(t)
	fields := []FieldValue{
		{"bin", []byte{0x00, 0xff, '\r', '\n'}},
		{"empty", []byte{}},
	}
	_, err := db.XAdd("s", XAddOptions{}, fields...)
	require.NoError(t, err)

	got, err := db.XRange("s", MinStreamID, MaxStreamID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fields, got[0].Fields)
}

func TestXGroupLifecycle(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.XAdd("s", XAddOptions{ID: "1-0"}, FieldValue{"f", []byte("v")})
	require.NoError(t, err)

	require.NoError(t, db.XGroupSetID("s", "g", StreamID{Ms: 1}))

	created, err := db.XGroupCreateConsumer("s", "g", "c1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.XGroupCreateConsumer("s", "g", "c1")
	require.NoError(t, err)
	assert.False(t, created)

	n, err := db.XGroupDelConsumer("s", "g", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.XGroupCreateConsumer("s", "nope", "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseStreamID(t *testing.T) {
	id, err := ParseStreamID("123-4", 0)
	require.NoError(t, err)
	assert.Equal(t, StreamID{Ms: 123, Seq: 4}, id)

	id, err = ParseStreamID("123", 7)
	require.NoError(t, err)
	assert.Equal(t, StreamID{Ms: 123, Seq: 7}, id)

	_, err = ParseStreamID("abc", 0)
	assert.Error(t, err)

	start, err := ParseRangeID("-", false)
	require.NoError(t, err)
	assert.Equal(t, MinStreamID, start)
	end, err := ParseRangeID("+", true)
	require.NoError(t, err)
	assert.Equal(t, MaxStreamID, end)
}
