package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsAndInsert(t *testing.T) {
	ports := NewSet(uint16(1433), uint16(1434))

	assert.True(t, ports.Contains(1433))
	assert.False(t, ports.Contains(8080))

	ports.Insert(1436)
	assert.True(t, ports.Contains(1436))
}

func TestDuplicateInsertsCollapse(t *testing.T) {
	ports := NewSet(uint16(1433), uint16(1433))
	assert.Len(t, ports, 1)
}

func TestStringIsSorted(t *testing.T) {
	ports := NewSet(uint16(1436), uint16(1433), uint16(1434))
	assert.Equal(t, "{1433 1434 1436}", ports.String())
}
