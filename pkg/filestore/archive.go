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

package filestore

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrArchiveUnsafe is returned when an archive entry escapes the project
// root or the archive as a whole exceeds the project size cap.
var ErrArchiveUnsafe = errors.New("unsafe archive")

// TemplateTTL bounds how long an extracted template stays in the hot tier.
const TemplateTTL = 6 * time.Hour

// RehydrateProject unzips a participant's project archive (or the lesson
// template when ptcID is TemplateOwner) into the KV store. Oversized
// entries are hoisted to the object store's bulk prefix with a reference
// left in the KV tier. ttl <= 0 leaves participant content unexpiring;
// template content always expires.
func (s *Store) RehydrateProject(ctx context.Context, ptcID int64, ttl time.Duration) error {
	var objectKey string
	if ptcID == TemplateOwner {
		objectKey = s.keys.TemplateArchive()
		if ttl <= 0 {
			ttl = TemplateTTL
		}
	} else {
		objectKey = s.keys.ProjectArchive(ptcID)
	}

	if err := s.extractToKV(ctx, objectKey, ptcID, ttl); err != nil {
		return err
	}

	if ptcID != TemplateOwner {
		// The counter restarts from the archived scores.
		if _, err := s.RescanTotal(ctx, ptcID); err != nil {
			return err
		}
	}
	return nil
}

// RehydrateTemplate ensures the lesson template is extracted into its KV
// namespace and returns the encoded template filenames.
func (s *Store) RehydrateTemplate(ctx context.Context, archiveKey string) ([]string, error) {
	files, err := s.List(ctx, TemplateOwner, true)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		return files, nil
	}

	if archiveKey == "" {
		archiveKey = s.keys.TemplateArchive()
	}
	if err := s.extractToKV(ctx, archiveKey, TemplateOwner, TemplateTTL); err != nil {
		return nil, err
	}
	return s.List(ctx, TemplateOwner, false)
}

func (s *Store) extractToKV(ctx context.Context, objectKey string, ptcID int64, ttl time.Duration) error {
	data, err := s.objects.Get(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrProjectFileMissing, objectKey)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveUnsafe, objectKey, err)
	}

	// Reject traversal and oversized archives before writing anything.
	var declared int64
	for _, f := range zr.File {
		if !safeArchivePath(f.Name) {
			return fmt.Errorf("%w: entry %q escapes project root", ErrArchiveUnsafe, f.Name)
		}
		declared += int64(f.UncompressedSize64)
	}
	if declared > s.limits.SizeLimit {
		return fmt.Errorf("%w: %d bytes over cap %d", ErrArchiveUnsafe, declared, s.limits.SizeLimit)
	}

	listKey := s.listKey(ptcID)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, s.limits.SizeLimit+1))
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		if int64(len(content)) > s.limits.SizeLimit {
			return fmt.Errorf("%w: entry %q larger than declared", ErrArchiveUnsafe, name)
		}

		if err := s.storeExtracted(ctx, listKey, ptcID, name, content, ttl); err != nil {
			return err
		}
	}

	if ttl > 0 {
		if err := s.rdb.Expire(ctx, listKey, ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", listKey, err)
		}
	}
	return nil
}

func (s *Store) storeExtracted(ctx context.Context, listKey string, ptcID int64, name string, content []byte, ttl time.Duration) error {
	encName := EncodeName(name)
	cKey := s.contentKey(ptcID, encName)
	size := int64(len(content))

	if err := s.rdb.ZAdd(ctx, listKey, redis.Z{Score: float64(size), Member: encName}).Err(); err != nil {
		return fmt.Errorf("extract list %s: %w", name, err)
	}

	if size > s.limits.HotLimit {
		bulkKey := s.keys.BulkFile(ptcID, encName)
		// Bulk uploads are idempotent by key; skip when already present.
		exists, err := s.objects.Exists(ctx, bulkKey)
		if err != nil {
			return fmt.Errorf("extract bulk %s: %w", name, err)
		}
		if !exists {
			if err := s.objects.Put(ctx, bulkKey, content); err != nil {
				return fmt.Errorf("extract bulk %s: %w", name, err)
			}
		}
		if err := s.rdb.Set(ctx, cKey, bulkKey, ttl).Err(); err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		return nil
	}

	stored := string(content)
	if stored == "" {
		stored = DirMarkContent
	}
	if err := s.rdb.Set(ctx, cKey, stored, ttl).Err(); err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}
	return nil
}

// ApplyTemplate copies the lesson template into a participant project.
// Name collisions with existing project files get a numeric suffix. The
// total-size counter moves by the per-file delta so the sum invariant
// holds without a rescan.
func (s *Store) ApplyTemplate(ctx context.Context, ptcID int64, archiveKey string) error {
	tmplFiles, err := s.RehydrateTemplate(ctx, archiveKey)
	if err != nil {
		return err
	}

	for _, encName := range tmplFiles {
		name, err := DecodeName(encName)
		if err != nil {
			continue
		}

		size, ok, err := s.FileSize(ctx, TemplateOwner, encName)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		value, err := s.rdb.Get(ctx, s.contentKey(TemplateOwner, encName)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Evicted between listing and copy; the next DIR_INFO
				// rehydrates it for this participant from the archive.
				continue
			}
			return fmt.Errorf("apply template %s: %w", name, err)
		}

		destName, err := s.collisionFreeName(ctx, ptcID, name)
		if err != nil {
			return err
		}

		pipe := s.rdb.Pipeline()
		pipe.ZAdd(ctx, s.listKey(ptcID), redis.Z{Score: float64(size), Member: EncodeName(destName)})
		pipe.Set(ctx, s.contentKey(ptcID, EncodeName(destName)), value, 0)
		pipe.IncrBy(ctx, s.keys.TotalSize(ptcID), size)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("apply template %s: %w", name, err)
		}
	}
	return nil
}

// collisionFreeName returns name, or name with a "_<n>" suffix before the
// extension when the participant already has it.
func (s *Store) collisionFreeName(ctx context.Context, ptcID int64, name string) (string, error) {
	candidate := name
	for i := 0; ; i++ {
		ok, err := s.HasFile(ctx, ptcID, EncodeName(candidate))
		if err != nil {
			return "", err
		}
		if !ok {
			return candidate, nil
		}
		ext := path.Ext(name)
		base := strings.TrimSuffix(name, ext)
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

// safeArchivePath rejects absolute entries and parent-directory traversal.
func safeArchivePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	cleaned := path.Clean(name)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
