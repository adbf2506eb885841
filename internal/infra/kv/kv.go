// Package kv holds the durable key-value stores a session can persist its
// caches in.
package kv

func namespaced(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}
