package bbolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketSchedules        = []byte("schedules")
	bucketScheduleRuns     = []byte("schedule_runs")
	bucketSchemaMigrations = []byte("schema_migrations")
)

type writeTask struct {
	ctx  context.Context
	fn   func(tx *bbolt.Tx) error
	done chan error
}

// Store persists schedules and their run history. All writes go through a
// single goroutine; reads use concurrent View transactions.
type Store struct {
	db     *bbolt.DB
	writes chan writeTask
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	store := &Store{
		db:     db,
		writes: make(chan writeTask, 128),
		stop:   make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	store.wg.Add(1)
	go store.writer()
	return store, nil
}

func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) initSchema() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketSchedules, bucketScheduleRuns, bucketSchemaMigrations} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketSchemaMigrations).Put([]byte("schema_version"), []byte("1"))
	})
}

func (s *Store) writer() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case task := <-s.writes:
			if err := task.ctx.Err(); err != nil {
				task.done <- err
				continue
			}
			err := s.db.Update(func(tx *bbolt.Tx) error {
				return task.fn(tx)
			})
			select {
			case task.done <- err:
			default:
			}
		}
	}
}

func (s *Store) runWrite(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	t := writeTask{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.writes <- t:
	case <-s.stop:
		return errors.New("store closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func scheduleKey(id string) string {
	return fmt.Sprintf("schedule:%s", id)
}

func runPrefix(scheduleID string) string {
	return fmt.Sprintf("run:%s:", scheduleID)
}

func (s *Store) PutSchedule(ctx context.Context, id string, schedule []byte) error {
	return s.runWrite(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(scheduleKey(id)), schedule)
	})
}

// DeleteSchedule removes the schedule and its run history.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	return s.runWrite(ctx, func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSchedules).Delete([]byte(scheduleKey(id))); err != nil {
			return err
		}
		runs := tx.Bucket(bucketScheduleRuns)
		prefix := []byte(runPrefix(id))
		var keys [][]byte
		cursor := runs.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := runs.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListSchedules(_ context.Context) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

// RecordScheduleRun stores a run under its schedule. Run ids sort in time
// order, so a prefix scan returns history oldest first.
func (s *Store) RecordScheduleRun(ctx context.Context, scheduleID, runID string, payload []byte) error {
	return s.runWrite(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketScheduleRuns).Put([]byte(runPrefix(scheduleID)+runID), payload)
	})
}

// ListScheduleRuns returns the newest limit runs, oldest first. A limit <= 0
// returns all of them.
func (s *Store) ListScheduleRuns(_ context.Context, scheduleID string, limit int) ([][]byte, error) {
	var out [][]byte
	prefix := []byte(runPrefix(scheduleID))
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketScheduleRuns).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			out = append(out, append([]byte(nil), v...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
