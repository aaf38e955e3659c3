// Package kv is the byte-oriented medium under persist. Keys are segment
// paths joined with ':'.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

var ErrNotFound = errors.New("kv: not found")

const Separator = ":"

type Key []string

func (k Key) String() string { return strings.Join(k, Separator) }

func (k Key) encode() []byte { return []byte(k.String()) }

func decodeKey(b []byte) Key { return Key(strings.Split(string(b), Separator)) }

// prefixBytes returns the encoded prefix followed by the separator, so that
// "a:b" never matches "a:bc". An empty prefix matches everything.
func (k Key) prefixBytes() []byte {
	if len(k) == 0 {
		return nil
	}
	return append(k.encode(), Separator...)
}

type Entry struct {
	Key   Key
	Value []byte
}

type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	Delete(ctx context.Context, key Key) error
	// List yields entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	// DeletePrefix removes every key under prefix in one transaction.
	DeletePrefix(ctx context.Context, prefix Key) error
	Close() error
}
