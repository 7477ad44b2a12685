package optionals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSomeGet(t *testing.T) {
	v, ok := Some("flagged").Get()
	assert.True(t, ok)
	assert.Equal(t, "flagged", v)
}

func TestNoneGet(t *testing.T) {
	v, ok := None[string]().Get()
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestZeroValueIsNone(t *testing.T) {
	var opt Optional[[]byte]
	_, ok := opt.Get()
	assert.False(t, ok)
}
