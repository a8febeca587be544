// Copyright 2025 The ember Authors
// This file is part of the ember library.
//
// The ember library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ember library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ember library. If not, see <http://www.gnu.org/licenses/>.

package triedb

import (
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// levelDB is a thin goleveldb adapter exposing just the Database surface the
// node store needs. The healing engine's access pattern is point reads plus
// batched writes, so iterators, snapshots and compaction control stay out.
type levelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a persistent node store at the given path.
func OpenLevelDB(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     8 * opt.MiB,
		WriteBuffer:            8 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, err
	}
	return NewStore(&levelDB{db: db}), nil
}

func (d *levelDB) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

func (d *levelDB) Get(key []byte) ([]byte, error) {
	return d.db.Get(key, nil)
}

func (d *levelDB) Put(key, value []byte) error {
	return d.db.Put(key, value, nil)
}

func (d *levelDB) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

func (d *levelDB) Close() error {
	return d.db.Close()
}

func (d *levelDB) NewBatch() ethdb.Batch {
	return &levelBatch{db: d.db, b: new(leveldb.Batch)}
}

func (d *levelDB) NewBatchWithSize(size int) ethdb.Batch {
	return &levelBatch{db: d.db, b: leveldb.MakeBatch(size)}
}

// levelBatch buffers writes until flushed, mirroring ethdb.Batch semantics.
type levelBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *levelBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelBatch) ValueSize() int {
	return b.size
}

func (b *levelBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *levelBatch) Reset() {
	b.b.Reset()
	b.size = 0
}

func (b *levelBatch) Replay(w ethdb.KeyValueWriter) error {
	r := &replayer{writer: w}
	if err := b.b.Replay(r); err != nil {
		return err
	}
	return r.failure
}

// replayer adapts goleveldb's batch replay callbacks onto a KeyValueWriter.
type replayer struct {
	writer  ethdb.KeyValueWriter
	failure error
}

func (r *replayer) Put(key, value []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Put(key, value)
}

func (r *replayer) Delete(key []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Delete(key)
}
