package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephyspipe/internal/config"
)

func TestReserverIsBuiltOnce(t *testing.T) {
	a := &app{cfg: config.Config{Jobs: config.JobsConfig{
		Backend: "redis",
		Redis:   config.RedisConfig{Addr: "127.0.0.1:1", Prefix: "ephyspipe:job:"},
	}}}
	defer a.close()

	first, err := a.populator(0)
	require.NoError(t, err)
	second, err := a.populator(0)
	require.NoError(t, err)

	assert.Same(t, first.Reserver, second.Reserver)
	assert.Len(t, a.closers, 1)
}

func TestReserverRejectsUnknownBackend(t *testing.T) {
	a := &app{cfg: config.Config{Jobs: config.JobsConfig{Backend: "etcd"}}}
	_, err := a.reserver()
	assert.Error(t, err)
	_, err = a.reserver()
	assert.Error(t, err)
}

func TestReserverNoneDisablesReservation(t *testing.T) {
	a := &app{cfg: config.Config{Jobs: config.JobsConfig{Backend: "none"}}}
	p, err := a.populator(5)
	require.NoError(t, err)
	assert.Nil(t, p.Reserver)
	assert.Equal(t, 5, p.MaxKeys)
}
