package ysync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jrhy/ydoc"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recorded struct {
	topic  Topic
	change AwarenessChange
}

func newAwareness(t *testing.T, client uint64, clock *fakeClock) (*Awareness, *[]recorded) {
	doc := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: client})
	a := NewAwareness(doc, &AwarenessOptions{OutdatedTimeout: 30 * time.Second, Clock: clock.now})
	var got []recorded
	a.Observe(func(topic Topic, ch AwarenessChange) { got = append(got, recorded{topic, ch}) })
	return a, &got
}

func TestLocalState(t *testing.T) {
	clock := &fakeClock{time.Unix(1000, 0)}
	a, got := newAwareness(t, 1, clock)
	assert.Equal(t, State{}, a.LocalState())
	assert.Equal(t, uint64(0), a.Meta()[1].Clock)

	a.SetLocalStateField("user", "ann")
	assert.Equal(t, State{"user": "ann"}, a.LocalState())
	assert.Equal(t, uint64(1), a.Meta()[1].Clock)
	require.Len(t, *got, 2)
	assert.Equal(t, TopicChange, (*got)[0].topic)
	assert.Equal(t, []uint64{1}, (*got)[0].change.Updated)
	assert.Equal(t, OriginLocal, (*got)[0].change.Origin)

	*got = nil
	a.SetLocalState(State{"user": "ann"})
	require.Len(t, *got, 1, "unchanged state only updates")
	assert.Equal(t, TopicUpdate, (*got)[0].topic)

	*got = nil
	a.SetLocalState(nil)
	assert.Nil(t, a.LocalState())
	require.Len(t, *got, 2)
	assert.Equal(t, []uint64{1}, (*got)[0].change.Removed)

	*got = nil
	a.SetLocalStateField("ignored", true)
	assert.Empty(t, *got)
}

func TestExchange(t *testing.T) {
	clock := &fakeClock{time.Unix(1000, 0)}
	a, _ := newAwareness(t, 1, clock)
	b, got := newAwareness(t, 2, clock)
	a.SetLocalState(State{"cursor": 3.0})

	update, err := a.EncodeUpdate([]uint64{1})
	require.NoError(t, err)
	*got = nil
	require.NoError(t, b.ApplyUpdate(update, "peer"))
	assert.Equal(t, State{"cursor": 3.0}, b.States()[1])
	require.Len(t, *got, 2)
	assert.Equal(t, recorded{TopicChange, AwarenessChange{Added: []uint64{1}, Origin: "peer"}}, (*got)[0])

	*got = nil
	require.NoError(t, b.ApplyUpdate(update, "peer"))
	assert.Empty(t, *got, "same clock is ignored")

	a.SetLocalState(nil)
	update, err = a.EncodeUpdate([]uint64{1})
	require.NoError(t, err)
	*got = nil
	require.NoError(t, b.ApplyUpdate(update, "peer"))
	assert.NotContains(t, b.States(), uint64(1))
	assert.Equal(t, []uint64{1}, (*got)[0].change.Removed)
}

func TestRemoteCannotRemoveLocal(t *testing.T) {
	clock := &fakeClock{time.Unix(1000, 0)}
	a, _ := newAwareness(t, 1, clock)
	before := a.Meta()[1].Clock

	buf := protowire.AppendVarint(nil, 1)
	buf = protowire.AppendVarint(buf, 1)
	buf = protowire.AppendVarint(buf, before+1)
	buf = protowire.AppendString(buf, "null")
	require.NoError(t, a.ApplyUpdate(buf, "peer"))

	assert.NotNil(t, a.LocalState())
	assert.Equal(t, before+2, a.Meta()[1].Clock)
}

func TestRemoveOutdated(t *testing.T) {
	clock := &fakeClock{time.Unix(1000, 0)}
	a, _ := newAwareness(t, 1, clock)
	b, got := newAwareness(t, 2, clock)
	// clock 0 from an unknown client is not news
	a.SetLocalState(State{"n": 1.0})
	update, err := a.EncodeUpdate([]uint64{1})
	require.NoError(t, err)
	require.NoError(t, b.ApplyUpdate(update, "peer"))
	require.Contains(t, b.States(), uint64(1))

	clock.advance(20 * time.Second)
	*got = nil
	b.RemoveOutdated()
	assert.Contains(t, b.States(), uint64(1))
	assert.Equal(t, uint64(1), b.Meta()[2].Clock, "local state renewed after half the timeout")

	clock.advance(10 * time.Second)
	*got = nil
	b.RemoveOutdated()
	assert.NotContains(t, b.States(), uint64(1))
	require.NotEmpty(t, *got)
	assert.Equal(t, AwarenessChange{Removed: []uint64{1}, Origin: OriginTimeout}, (*got)[0].change)
}

func TestUnobserve(t *testing.T) {
	clock := &fakeClock{time.Unix(1000, 0)}
	a, _ := newAwareness(t, 1, clock)
	n := 0
	id := a.Observe(func(Topic, AwarenessChange) { n++ })
	a.SetLocalState(State{"x": 1.0})
	a.Unobserve(id)
	a.SetLocalState(State{"x": 2.0})
	assert.Equal(t, 2, n)
}

func TestIsDisconnectMessage(t *testing.T) {
	clock := &fakeClock{time.Unix(1000, 0)}
	a, _ := newAwareness(t, 1, clock)
	a.SetLocalState(nil)
	update, err := a.EncodeUpdate([]uint64{1})
	require.NoError(t, err)
	yes, err := IsDisconnectMessage(protowire.AppendBytes(nil, update))
	require.NoError(t, err)
	assert.True(t, yes)

	a.SetLocalState(State{"here": true})
	update, err = a.EncodeUpdate([]uint64{1})
	require.NoError(t, err)
	yes, err = IsDisconnectMessage(protowire.AppendBytes(nil, update))
	require.NoError(t, err)
	assert.False(t, yes)

	var st State
	require.NoError(t, json.Unmarshal([]byte(`{"here":true}`), &st))
	assert.Equal(t, st, a.LocalState())
}
