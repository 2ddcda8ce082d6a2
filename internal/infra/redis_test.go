package infra

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_EmptyURLDisablesQueue(t *testing.T) {
	rdb, err := NewRedis("")
	require.NoError(t, err)
	assert.Nil(t, rdb)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	require.NotNil(t, rdb)
	_ = rdb.Close()

	_, err = NewRedis("not a url")
	assert.Error(t, err)
}
