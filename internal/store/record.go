package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aweris/hashcache/internal/compression"
)

// Storage layout inside the engine:
//
//	\x00meta/version         schema version, big endian uint32
//	\x00meta/folder/<name>   marks the record collection as created
//	<folder>/<key>           msgpack record envelope
//
// Meta keys start with 0x00 so they never share a prefix with a folder.

const (
	metaPrefix    = "\x00meta/"
	versionKey    = metaPrefix + "version"
	schemaVersion = 1
)

func folderKey(folder string) []byte {
	return []byte(metaPrefix + "folder/" + folder)
}

// record is the envelope stored for every key. It repeats the key so a value
// stored under the wrong key is detected on read.
type record struct {
	Key   string            `msgpack:"key"`
	Value []byte            `msgpack:"value"`
	Codec compression.Codec `msgpack:"codec"`
}

// Record is one decoded entry as seen by Iterate. Err is set, wrapping
// ErrCorruptRecord, when the stored envelope could not be decoded.
type Record struct {
	Key   string
	Value []byte
	Err   error
}

func (s *session) encode(key string, value []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrNotOpen
	}

	data, codec := s.codec.Encode(value)
	raw, err := msgpack.Marshal(&record{Key: key, Value: data, Codec: codec})
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", key, err)
	}
	return raw, nil
}

func (s *session) decode(key string, raw []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrNotOpen
	}

	var r record
	if err := msgpack.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	if r.Key != key {
		return nil, fmt.Errorf("%w: %s: envelope holds key %q", ErrCorruptRecord, key, r.Key)
	}
	value, err := s.codec.Decode(r.Value, r.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	return value, nil
}
