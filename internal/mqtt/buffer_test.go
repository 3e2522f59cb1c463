package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloads(msgs []pendingMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestOutboxFlushEmpty(t *testing.T) {
	o := newOutbox(4)
	msgs, dropped := o.flush()
	assert.Nil(t, msgs)
	assert.Zero(t, dropped)
}

func TestOutboxKeepsOrder(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		push     int
		want     []byte
		dropped  int
	}{
		{"partial", 10, 5, []byte{0, 1, 2, 3, 4}, 0},
		{"exactly full", 4, 4, []byte{0, 1, 2, 3}, 0},
		{"overflow drops oldest", 5, 8, []byte{3, 4, 5, 6, 7}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOutbox(tt.capacity)
			for i := 0; i < tt.push; i++ {
				o.push(pendingMsg{topic: Topic, payload: []byte{byte(i)}})
			}
			msgs, dropped := o.flush()
			assert.Equal(t, tt.want, payloads(msgs))
			assert.Equal(t, tt.dropped, dropped)
			assert.Zero(t, o.len())
		})
	}
}

func TestOutboxPushReportsDrop(t *testing.T) {
	o := newOutbox(2)
	assert.False(t, o.push(pendingMsg{payload: []byte{1}}))
	assert.False(t, o.push(pendingMsg{payload: []byte{2}}))
	assert.True(t, o.push(pendingMsg{payload: []byte{3}}))
	assert.Equal(t, 2, o.len())
}

func TestOutboxReusableAfterFlush(t *testing.T) {
	o := newOutbox(3)
	for i := 0; i < 5; i++ {
		o.push(pendingMsg{payload: []byte{byte(i)}})
	}
	o.flush()

	o.push(pendingMsg{payload: []byte{10}})
	o.push(pendingMsg{payload: []byte{11}})
	msgs, dropped := o.flush()
	assert.Equal(t, []byte{10, 11}, payloads(msgs))
	assert.Zero(t, dropped, "drop count resets on flush")
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(2)
	o.push(pendingMsg{topic: TopicSystem, payload: []byte(`{"system":{}}`), qos: 1, retained: true})

	msgs, _ := o.flush()
	require.Len(t, msgs, 1)
	assert.Equal(t, pendingMsg{topic: TopicSystem, payload: []byte(`{"system":{}}`), qos: 1, retained: true}, msgs[0])
}

func TestOutboxMinimumCapacity(t *testing.T) {
	o := newOutbox(0)
	o.push(pendingMsg{payload: []byte{1}})
	o.push(pendingMsg{payload: []byte{2}})
	msgs, dropped := o.flush()
	assert.Equal(t, []byte{2}, payloads(msgs))
	assert.Equal(t, 1, dropped)
}
