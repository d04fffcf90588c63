package pubsub

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBroker(buf int) *Broker {
	return NewBroker(buf, zap.NewNop())
}

func TestPublishNoSubscribers(t *testing.T) {
	b := newBroker(0)
	assert.Equal(t, int64(0), b.Publish("ch", []byte("x")))
}

func TestPublishExactChannel(t *testing.T) {
	b := newBroker(0)
	r := b.Subscribe("ch")

	n := b.Publish("ch", []byte("hello"))
	assert.Equal(t, int64(1), n)

	msg, ok := r.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "ch", msg.Channel)
	assert.Equal(t, []byte("hello"), msg.Payload)

	_, ok = r.TryRecv()
	assert.False(t, ok)
}

// One publish reaches exact subscribers and every matching pattern.
func TestPublishPatternFanOut(t *testing.T) {
	b := newBroker(0)
	a := b.Subscribe("ch")
	pb := b.SubscribePattern("ch.*")

	n := b.Publish("ch.1", []byte("hello"))
	assert.Equal(t, int64(1), n) // only the pattern matches ch.1

	n = b.Publish("ch", []byte("world"))
	assert.Equal(t, int64(2), n) // exact + pattern

	msg, ok := a.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "ch", msg.Channel)
	assert.Equal(t, []byte("world"), msg.Payload)

	msg, ok = pb.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "ch.1", msg.Channel)
	msg, ok = pb.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "ch", msg.Channel)
}

func TestDeliveryExactlyOncePerSubscriber(t *testing.T) {
	b := newBroker(0)
	r1 := b.Subscribe("ch")
	r2 := b.Subscribe("ch")

	n := b.Publish("ch", []byte("m"))
	assert.Equal(t, int64(2), n)

	for _, r := range []*Receiver{r1, r2} {
		_, ok := r.TryRecv()
		assert.True(t, ok)
		_, ok = r.TryRecv()
		assert.False(t, ok)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newBroker(0)
	r := b.Subscribe("ch")
	b.Unsubscribe(r)

	n := b.Publish("ch", []byte("m"))
	assert.Equal(t, int64(0), n)
	assert.Equal(t, int64(0), b.NumSub("ch"))
}

func TestPublisherOrderPreserved(t *testing.T) {
	b := newBroker(16)
	r := b.Subscribe("ch")

	for i := 0; i < 10; i++ {
		b.Publish("ch", []byte(strconv.Itoa(i)))
	}
	for i := 0; i < 10; i++ {
		msg, ok := r.TryRecv()
		require.True(t, ok)
		assert.Equal(t, strconv.Itoa(i), string(msg.Payload))
	}
}

// A lagging receiver drops its oldest messages and continues with the newest;
// publishers never block.
func TestOverflowDropsOldest(t *testing.T) {
	b := newBroker(2)
	r := b.Subscribe("ch")

	for i := 0; i < 5; i++ {
		n := b.Publish("ch", []byte(strconv.Itoa(i)))
		assert.Equal(t, int64(1), n)
	}

	msg, ok := r.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "3", string(msg.Payload))
	msg, ok = r.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "4", string(msg.Payload))
	_, ok = r.TryRecv()
	assert.False(t, ok)
}

func TestChannelsListing(t *testing.T) {
	b := newBroker(0)
	b.Subscribe("news.tech")
	b.Subscribe("news.sport")
	b.SubscribePattern("news.*")

	all := b.Channels("")
	assert.ElementsMatch(t, []string{"news.tech", "news.sport"}, all)

	tech := b.Channels("*.tech")
	assert.Equal(t, []string{"news.tech"}, tech)
}

func TestBinaryPayloadAndChannelBytes(t *testing.T) {
	b := newBroker(0)
	r := b.SubscribePattern("ch.*")

	payload := []byte{0x00, 0xff, '\r', '\n'}
	n := b.Publish("ch.\xc3\x28", payload)
	assert.Equal(t, int64(1), n)

	msg, ok := r.TryRecv()
	require.True(t, ok)
	assert.Equal(t, payload, msg.Payload)
	assert.Equal(t, "ch.\xc3\x28", msg.Channel)
}
