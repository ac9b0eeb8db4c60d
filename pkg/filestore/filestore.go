/*
SPDX-FileCopyrightText: Copyright (c) 2026 Together Coding. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package filestore implements the two-tier project file store. File
// presence is tracked in a per-project sorted set whose scores are byte
// sizes; content lives inline in the KV store up to the hot limit and in
// the object store beyond it. The sorted set is the source of truth: a
// listed file whose content key is gone is rehydrated from the project
// archive, never dropped.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Error kinds surfaced to protocol handlers.
var (
	ErrFileExists         = errors.New("file already exists")
	ErrFileNotFound       = errors.New("file not found")
	ErrProjectFileMissing = errors.New("project file missing from storage")
	ErrTotalSizeExceeded  = errors.New("total project size exceeded")
)

// Default limits, overridable per store.
const (
	DefaultHotLimit  int64 = 128 << 20 // inline KV content cap
	DefaultSizeLimit int64 = 512 << 20 // per-project total cap
)

// ObjectStore is the cold tier. *s3.S3Client satisfies it.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Limits bounds content placement and project growth.
type Limits struct {
	HotLimit  int64 // content larger than this goes to the object store
	SizeLimit int64 // projected totals above this refuse the write
}

// Store operates on one lesson's files for any of its participants.
// ptcID == TemplateOwner addresses the lesson template namespace.
type Store struct {
	rdb     *redis.Client
	objects ObjectStore
	keys    Keys
	limits  Limits
	logger  *slog.Logger
}

// NewStore creates a file store for one (course, lesson) pair.
func NewStore(rdb *redis.Client, objects ObjectStore, keys Keys, limits Limits, logger *slog.Logger) *Store {
	if limits.HotLimit <= 0 {
		limits.HotLimit = DefaultHotLimit
	}
	if limits.SizeLimit <= 0 {
		limits.SizeLimit = DefaultSizeLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rdb:     rdb,
		objects: objects,
		keys:    keys,
		limits:  limits,
		logger:  logger,
	}
}

// Keys returns the store's key derivation.
func (s *Store) Keys() Keys { return s.keys }

func (s *Store) listKey(ptcID int64) string {
	if ptcID == TemplateOwner {
		return s.keys.TemplateList()
	}
	return s.keys.FileList(ptcID)
}

func (s *Store) contentKey(ptcID int64, encName string) string {
	if ptcID == TemplateOwner {
		return s.keys.TemplateContent(encName)
	}
	return s.keys.FileContent(ptcID, encName)
}

// List returns the encoded filenames of a project (or the template when
// ptcID is TemplateOwner). With checkContent set, every member's content
// key is probed; a single missing content key makes the listing cold and
// an empty slice is returned so the caller rehydrates first.
func (s *Store) List(ctx context.Context, ptcID int64, checkContent bool) ([]string, error) {
	members, err := s.rdb.ZRange(ctx, s.listKey(ptcID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	if !checkContent || len(members) == 0 {
		return members, nil
	}

	for _, enc := range members {
		// The empty-content sentinel keeps length >= 1, so zero length
		// always means eviction.
		n, err := s.rdb.StrLen(ctx, s.contentKey(ptcID, enc)).Result()
		if err != nil {
			return nil, fmt.Errorf("check content %s: %w", enc, err)
		}
		if n <= 0 {
			return nil, nil
		}
	}
	return members, nil
}

// FileSize returns the size score of an encoded filename, and whether the
// file is listed at all.
func (s *Store) FileSize(ctx context.Context, ptcID int64, encName string) (int64, bool, error) {
	score, err := s.rdb.ZScore(ctx, s.listKey(ptcID), encName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("file size %s: %w", encName, err)
	}
	return int64(score), true, nil
}

// HasFile reports whether the encoded filename is in the file list.
func (s *Store) HasFile(ctx context.Context, ptcID int64, encName string) (bool, error) {
	_, ok, err := s.FileSize(ctx, ptcID, encName)
	return ok, err
}

// HasDirectory reports whether dir contains the directory mark.
func (s *Store) HasDirectory(ctx context.Context, ptcID int64, dir string) (bool, error) {
	return s.HasFile(ctx, ptcID, EncodeName(DirMarkName(dir)))
}

// Create adds a new file. markDirs ensures a directory mark for every
// ancestor of the file, so empty directories remain listable.
func (s *Store) Create(ctx context.Context, ptcID int64, name, content string, markDirs bool) error {
	encName := EncodeName(name)

	exists, err := s.HasFile(ctx, ptcID, encName)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrFileExists, name)
	}

	stored := content
	if stored == "" {
		stored = DirMarkContent
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, s.listKey(ptcID), redis.Z{Score: float64(len(content)), Member: encName})
	pipe.Set(ctx, s.contentKey(ptcID, encName), stored, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	if markDirs && name != DirMark {
		if err := s.MarkDirectory(ctx, ptcID, ParentDir(name)); err != nil {
			return err
		}
	}
	return nil
}

// MarkDirectory inserts the directory mark for dir and all its ancestors.
// Existing marks are left alone. Marks are created empty so their score
// stays zero; Create substitutes the content sentinel.
func (s *Store) MarkDirectory(ctx context.Context, ptcID int64, dir string) error {
	for dir != "" {
		err := s.Create(ctx, ptcID, DirMarkName(dir), "", false)
		if err != nil && !errors.Is(err, ErrFileExists) {
			return err
		}
		dir = ParentDir(dir)
	}
	return nil
}

// Rename changes a file's name. The content key moves with rename-if-absent
// semantics; if another writer claimed the new name between the check and
// the pipeline, the list mutation is rolled back.
func (s *Store) Rename(ctx context.Context, ptcID int64, oldName, newName string) error {
	encOld := EncodeName(oldName)
	encNew := EncodeName(newName)

	size, ok, err := s.FileSize(ctx, ptcID, encOld)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, oldName)
	}

	if exists, err := s.HasFile(ctx, ptcID, encNew); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s", ErrFileExists, newName)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, s.listKey(ptcID), redis.Z{Score: float64(size), Member: encNew})
	pipe.ZRem(ctx, s.listKey(ptcID), encOld)
	renamed := pipe.RenameNX(ctx, s.contentKey(ptcID, encOld), s.contentKey(ptcID, encNew))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldName, newName, err)
	}

	if !renamed.Val() {
		// Lost the race on the content key: restore the list.
		undo := s.rdb.Pipeline()
		undo.ZRem(ctx, s.listKey(ptcID), encNew)
		undo.ZAdd(ctx, s.listKey(ptcID), redis.Z{Score: float64(size), Member: encOld})
		if _, err := undo.Exec(ctx); err != nil {
			return fmt.Errorf("undo rename %s: %w", oldName, err)
		}
		return fmt.Errorf("%w: %s", ErrFileExists, newName)
	}
	return nil
}

// RenameDirectory renames every entry under oldDir to newDir. It returns
// (oldName, newName) pairs of the moved plain files so callers can rewrite
// code references.
func (s *Store) RenameDirectory(ctx context.Context, ptcID int64, oldDir, newDir string) ([][2]string, error) {
	members, err := s.List(ctx, ptcID, false)
	if err != nil {
		return nil, err
	}

	prefix := oldDir + "/"
	var moved [][2]string
	found := false
	for _, enc := range members {
		name, err := DecodeName(enc)
		if err != nil {
			continue
		}
		if name != oldDir && !strings.HasPrefix(name, prefix) {
			continue
		}
		found = true
		newName := newDir + strings.TrimPrefix(name, oldDir)
		if err := s.Rename(ctx, ptcID, name, newName); err != nil {
			return moved, err
		}
		if !IsDirMark(name) {
			moved = append(moved, [2]string{name, newName})
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, oldDir)
	}
	return moved, nil
}

// Delete removes a file from the list and drops its content. Cold-tier
// objects are deleted only when the reference lies under the deleting
// participant's own bulk prefix; template bulk objects are shared.
func (s *Store) Delete(ctx context.Context, ptcID int64, name string) error {
	encName := EncodeName(name)

	size, ok, err := s.FileSize(ctx, ptcID, encName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	cKey := s.contentKey(ptcID, encName)
	value, err := s.rdb.Get(ctx, cKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, s.listKey(ptcID), encName)
	pipe.Del(ctx, cKey)
	if ptcID != TemplateOwner {
		pipe.IncrBy(ctx, s.keys.TotalSize(ptcID), -size)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	if s.keys.IsBulkRef(value) && strings.HasPrefix(value, s.keys.BulkPrefix(ptcID)) {
		if err := s.objects.Delete(ctx, value); err != nil {
			// The list no longer references the object; an orphan is
			// harmless and retried by the next overwrite.
			s.logger.Warn("bulk object delete failed",
				slog.String("key", value),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// DeleteDirectory removes every entry under dir and returns the decoded
// names of the deleted plain files.
func (s *Store) DeleteDirectory(ctx context.Context, ptcID int64, dir string) ([]string, error) {
	members, err := s.List(ctx, ptcID, false)
	if err != nil {
		return nil, err
	}

	prefix := dir + "/"
	var deleted []string
	found := false
	for _, enc := range members {
		name, err := DecodeName(enc)
		if err != nil {
			continue
		}
		if name != dir && !strings.HasPrefix(name, prefix) {
			continue
		}
		found = true
		if err := s.Delete(ctx, ptcID, name); err != nil {
			return deleted, err
		}
		if !IsDirMark(name) {
			deleted = append(deleted, name)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, dir)
	}
	return deleted, nil
}

// Save upserts file content. The total-size counter moves by the size
// delta, and the projected total is checked against the project cap before
// anything is written. Oversized content goes to the object store with a
// key reference left in the KV tier.
func (s *Store) Save(ctx context.Context, ptcID int64, name, content string) error {
	encName := EncodeName(name)
	newSize := int64(len(content))

	prevSize, _, err := s.FileSize(ctx, ptcID, encName)
	if err != nil {
		return err
	}

	total, err := s.Total(ctx, ptcID)
	if err != nil {
		return err
	}
	if total-prevSize+newSize > s.limits.SizeLimit {
		return fmt.Errorf("%w: %d bytes over %d", ErrTotalSizeExceeded,
			total-prevSize+newSize-s.limits.SizeLimit, s.limits.SizeLimit)
	}

	var stored string
	if newSize > s.limits.HotLimit {
		bulkKey := s.keys.BulkFile(ptcID, encName)
		if err := s.objects.Put(ctx, bulkKey, []byte(content)); err != nil {
			return fmt.Errorf("save bulk %s: %w", name, err)
		}
		stored = bulkKey
	} else if content == "" {
		stored = DirMarkContent
	} else {
		stored = content
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, s.listKey(ptcID), redis.Z{Score: float64(newSize), Member: encName})
	pipe.Set(ctx, s.contentKey(ptcID, encName), stored, 0)
	pipe.IncrBy(ctx, s.keys.TotalSize(ptcID), newSize-prevSize)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// GetContent returns a file's content, pulling bulk entries from the cold
// tier. Evicted content, or a name missing from an evicted list, triggers
// rehydration from the project archive before a retry.
func (s *Store) GetContent(ctx context.Context, ptcID int64, name string) (string, error) {
	encName := EncodeName(name)

	content, err := s.readContent(ctx, ptcID, encName)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, errContentEvicted) && !errors.Is(err, ErrFileNotFound) {
		return "", err
	}

	if errors.Is(err, ErrFileNotFound) {
		// A live list that lacks the name is authoritative: the file does
		// not exist. Rehydrate only when the list itself was evicted.
		n, exErr := s.rdb.Exists(ctx, s.listKey(ptcID)).Result()
		if exErr != nil {
			return "", fmt.Errorf("read content: %w", exErr)
		}
		if n > 0 {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
	}

	if err := s.RehydrateProject(ctx, ptcID, 0); err != nil {
		return "", err
	}

	content, err = s.readContent(ctx, ptcID, encName)
	if errors.Is(err, errContentEvicted) {
		return "", fmt.Errorf("%w: %s", ErrProjectFileMissing, name)
	}
	if errors.Is(err, ErrFileNotFound) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return content, err
}

// errContentEvicted marks a listed file whose hot-tier content is gone.
var errContentEvicted = errors.New("content evicted")

func (s *Store) readContent(ctx context.Context, ptcID int64, encName string) (string, error) {
	ok, err := s.HasFile(ctx, ptcID, encName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrFileNotFound
	}

	value, err := s.rdb.Get(ctx, s.contentKey(ptcID, encName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errContentEvicted
		}
		return "", fmt.Errorf("read content: %w", err)
	}

	if s.keys.IsBulkRef(value) {
		data, err := s.objects.Get(ctx, value)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrProjectFileMissing, value)
		}
		return string(data), nil
	}
	if value == DirMarkContent {
		return "", nil
	}
	return value, nil
}

// Total returns the project's current total size counter.
func (s *Store) Total(ctx context.Context, ptcID int64) (int64, error) {
	n, err := s.rdb.Get(ctx, s.keys.TotalSize(ptcID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("total size: %w", err)
	}
	return n, nil
}

// RescanTotal recomputes the counter from the file-list scores. Used after
// rehydration, when the incremental counter may not exist yet.
func (s *Store) RescanTotal(ctx context.Context, ptcID int64) (int64, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, s.listKey(ptcID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("rescan total: %w", err)
	}
	var total int64
	for _, z := range zs {
		total += int64(z.Score)
	}
	if err := s.rdb.Set(ctx, s.keys.TotalSize(ptcID), total, 0).Err(); err != nil {
		return 0, fmt.Errorf("rescan total: %w", err)
	}
	return total, nil
}

// LastCursor returns the viewer's stored cursor on (owner, file), or ""
// when none was saved.
func (s *Store) LastCursor(ctx context.Context, viewerID, ownerID int64, file string) (string, error) {
	cursor, err := s.rdb.HGet(ctx, s.keys.CursorHash(viewerID), s.keys.CursorField(ownerID, file)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("last cursor: %w", err)
	}
	return cursor, nil
}

// SetLastCursor stores the viewer's cursor on (owner, file). Writes on
// files the owner does not have are dropped.
func (s *Store) SetLastCursor(ctx context.Context, viewerID, ownerID int64, file, cursor string) error {
	ok, err := s.HasFile(ctx, ownerID, EncodeName(file))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.rdb.HSet(ctx, s.keys.CursorHash(viewerID), s.keys.CursorField(ownerID, file), cursor).Err(); err != nil {
		return fmt.Errorf("set last cursor: %w", err)
	}
	return nil
}

// ExpireList puts a TTL on the file list so rehydrated caches self-evict.
func (s *Store) ExpireList(ctx context.Context, ptcID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Expire(ctx, s.listKey(ptcID), ttl).Err(); err != nil {
		return fmt.Errorf("expire list: %w", err)
	}
	return nil
}
