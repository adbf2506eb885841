package database

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

func NewMemcached(servers ...string) *memcache.Client {
	client := memcache.New(servers...)
	client.Timeout = 500 * time.Millisecond
	return client
}
