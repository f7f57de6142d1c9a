package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersSnapshot(t *testing.T) {
	c := New()
	c.RecordAccept()
	c.RecordAccept()
	c.RecordAcceptRejected()
	c.RecordSocketKilled()
	c.RecordFloodKick()
	c.RecordBufferOverflow()
	c.RecordDatagramDropped()
	c.RecordConnectRejected()

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.AcceptsTotal)
	assert.Equal(t, uint64(1), snap.AcceptsRejected)
	assert.Equal(t, uint64(1), snap.ConnectsRejected)
	assert.Equal(t, uint64(1), snap.SocketsKilled)
	assert.Equal(t, uint64(1), snap.FloodKicks)
	assert.Equal(t, uint64(1), snap.BufferOverflows)
	assert.Equal(t, uint64(1), snap.DatagramsDropped)
}
