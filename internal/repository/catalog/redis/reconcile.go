package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"image-store/internal/domain"
	"image-store/internal/repository/catalog"

	goredis "github.com/redis/go-redis/v9"
)

var errRecordGone = errors.New("record removed during correction")

type sweep struct {
	mu     sync.Mutex
	report domain.ReconcileReport
}

func (s *sweep) add(fn func(r *domain.ReconcileReport)) {
	s.mu.Lock()
	fn(&s.report)
	s.mu.Unlock()
}

func (s *sweep) snapshot() domain.ReconcileReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// CorrectImages sweeps every metadata record. Records whose file still has
// the legacy placeholder extension get the file renamed and the hash
// rewritten; paths referenced by more than one record are reported as
// duplicates and left alone. Per-record failures are counted, only a failing
// SCAN aborts the sweep. Running it again on a corrected catalog changes
// nothing.
func (c *Catalog) CorrectImages(ctx context.Context) (domain.ReconcileReport, error) {
	start := time.Now()
	s := &sweep{}

	done := make(chan struct{})
	defer close(done)
	go c.reportProgress(s, start, done)

	paths := make(map[string][]string)
	seen := make(map[string]struct{})
	pattern := catalog.MetaPattern(catalog.AnyCamera)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, c.cfg.Catalog.ScanCount).Result()
		if err != nil {
			report := s.snapshot()
			report.Duration = time.Since(start)
			return report, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}

		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			if path, ok := c.checkRecord(ctx, s, key); ok {
				paths[path] = append(paths[path], key)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	for path, keys := range paths {
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		c.logger.Error().
			Str("path", path).
			Strs("keys", keys).
			Msg("Duplicate metadata records for one file")
		s.add(func(r *domain.ReconcileReport) {
			r.Duplicates++
			r.Errors++
		})
	}

	report := s.snapshot()
	report.Duration = time.Since(start)

	c.logger.Info().
		Int("checked", report.Checked).
		Int("corrected", report.Corrected).
		Int("renamed", report.Renamed).
		Int("not_needing_rename", report.NotNeedingRename).
		Int("duplicates", report.Duplicates).
		Int("errors", report.Errors).
		Dur("duration", report.Duration).
		Msg("Catalog correction finished")

	return report, nil
}

// checkRecord returns the record's current path, after correction if one
// was needed.
func (c *Catalog) checkRecord(ctx context.Context, s *sweep, key string) (string, bool) {
	h, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to read metadata record")
		s.add(func(r *domain.ReconcileReport) { r.Errors++ })
		return "", false
	}
	if len(h) == 0 {
		// removed since the scan
		return "", false
	}

	s.add(func(r *domain.ReconcileReport) { r.Checked++ })

	path := h[catalog.FieldPath]
	if !strings.HasSuffix(path, "."+domain.LegacyExtension) {
		s.add(func(r *domain.ReconcileReport) { r.NotNeedingRename++ })
		return path, true
	}

	newPath, renamed, err := c.correctRecord(ctx, key, h)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Str("path", path).Msg("Failed to correct record")
		s.add(func(r *domain.ReconcileReport) { r.Errors++ })
		return path, true
	}

	s.add(func(r *domain.ReconcileReport) {
		r.Corrected++
		if renamed {
			r.Renamed++
		}
	})
	c.logger.Info().
		Str("key", key).
		Str("from", path).
		Str("to", newPath).
		Bool("renamed", renamed).
		Msg("Corrected legacy extension")

	return newPath, true
}

// correctRecord renames the backing file unless an earlier interrupted
// sweep already did, then replaces the hash in one transaction guarded by
// WATCH so a record removed concurrently is not resurrected.
func (c *Catalog) correctRecord(ctx context.Context, key string, h map[string]string) (string, bool, error) {
	oldPath := h[catalog.FieldPath]
	newPath := strings.TrimSuffix(oldPath, domain.LegacyExtension) + c.cfg.Catalog.DefaultFormat

	renamed := false
	if _, err := os.Stat(oldPath); err == nil {
		if err := os.Rename(oldPath, newPath); err != nil {
			return "", false, fmt.Errorf("failed to rename %s: %w", oldPath, err)
		}
		renamed = true
	}

	if _, err := os.Stat(newPath); err != nil {
		return "", renamed, fmt.Errorf("%w: %s", catalog.ErrRenamedFileMissing, newPath)
	}

	fields := make(map[string]any, len(h))
	for k, v := range h {
		fields[k] = v
	}
	fields[catalog.FieldPath] = newPath
	fields[catalog.FieldFilename] = filepath.Base(newPath)

	err := c.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return errRecordGone
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return "", renamed, fmt.Errorf("failed to rewrite %s: %w", key, err)
	}

	return newPath, renamed, nil
}

func (c *Catalog) reportProgress(s *sweep, start time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.Catalog.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r := s.snapshot()
			c.logger.Info().
				Int("checked", r.Checked).
				Int("corrected", r.Corrected).
				Int("renamed", r.Renamed).
				Int("errors", r.Errors).
				Dur("elapsed", time.Since(start)).
				Msg("Catalog correction in progress")
		}
	}
}
