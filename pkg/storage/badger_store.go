package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/doc-site/pkg/log"
	"github.com/Sriram-PR/doc-site/pkg/models"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

const (
	pageKeyPrefix = "page:"    // Prefix for source document keys in DB
	buildDBDir    = "build_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the BuildStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached key count for O(1) GetEntryCount
}

// DBPath returns the directory holding the build database of a site.
func DBPath(stateDir, siteKey string) string {
	return filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+"_"+buildDBDir)
}

// NewBadgerStore initializes and returns a new BadgerStore.
// Without incremental, any state left by a previous build of the site is discarded.
func NewBadgerStore(ctx context.Context, stateDir, siteKey string, incremental bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	dbPath := DBPath(stateDir, siteKey)

	if !incremental {
		logger.Debugf("Full build: removing existing state directory %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing build state database at: %s (Incremental: %v)", dbPath, incremental)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if incremental {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing keys: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Loaded %d tracked documents from previous builds", count)
		}
	}

	return store, nil
}

// countKeys performs a one-time full key scan (used only during initialization).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(pageKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts on overlapping keys resolve in microseconds, so no backoff is used.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// CheckPageStatus implements the BuildStore interface
func (s *BadgerStore) CheckPageStatus(relPath string) (models.PageStatus, *models.PageDBEntry, error) {
	status := models.PageStatusNotFound
	var entry *models.PageDBEntry
	key := []byte(pageKeyPrefix + relPath)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting page key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				status = models.PageStatusPending
				return nil
			}

			var decodedEntry models.PageDBEntry
			if errJson := json.Unmarshal(val, &decodedEntry); errJson != nil {
				s.log.Warnf("Failed to unmarshal PageDBEntry for key '%s': %v. Treating as 'pending'.", string(key), errJson)
				status = models.PageStatusPending
				return nil
			}

			if !decodedEntry.Status.IsValid() {
				s.log.Warnf("Unknown status '%s' stored for key '%s'. Treating as 'pending'.", decodedEntry.Status, string(key))
				status = models.PageStatusPending
				return nil
			}
			entry = &decodedEntry
			status = decodedEntry.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckPageStatus for key '%s': %v", string(key), errView)
		return models.PageStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdatePageStatus implements the BuildStore interface
func (s *BadgerStore) UpdatePageStatus(relPath string, entry *models.PageDBEntry) error {
	if s.db == nil {
		return fmt.Errorf("%w: build database not initialized", utils.ErrDatabase)
	}
	if entry == nil || !entry.Status.IsValid() {
		return fmt.Errorf("%w: refusing to store status '%s' for '%s'", utils.ErrDatabase, statusOf(entry), relPath)
	}
	key := []byte(pageKeyPrefix + relPath)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal PageDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdatePageStatus: %v", err)
		return fmt.Errorf("%w: failed setting page status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Updated build status for '%s' to '%s'", relPath, entry.Status)
	return nil
}

// GetEntryCount implements the BuildStore interface.
func (s *BadgerStore) GetEntryCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// forEachEntry iterates every page entry, stopping early on context cancellation.
// Entries that fail to decode are logged and skipped.
func statusOf(entry *models.PageDBEntry) models.PageStatus {
	if entry == nil {
		return models.PageStatusUnset
	}
	return entry.Status
}

func (s *BadgerStore) forEachEntry(ctx context.Context, fn func(relPath string, entry models.PageDBEntry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pageKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			relPath := string(item.KeyCopy(nil)[len(prefix):])

			var entry models.PageDBEntry
			errValue := item.Value(func(val []byte) error {
				if len(val) == 0 {
					entry.Status = models.PageStatusPending
					return nil
				}
				return json.Unmarshal(val, &entry)
			})
			if errValue != nil {
				s.log.Warnf("Skipping undecodable entry '%s': %v", relPath, errValue)
				continue
			}
			if err := fn(relPath, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListFailed implements the BuildStore interface.
func (s *BadgerStore) ListFailed(ctx context.Context) ([]string, error) {
	var failed []string
	err := s.forEachEntry(ctx, func(relPath string, entry models.PageDBEntry) error {
		if entry.Status == models.PageStatusFailure {
			failed = append(failed, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing failed documents: %w", utils.ErrDatabase, err)
	}
	sort.Strings(failed)
	return failed, nil
}

// PruneMissing implements the BuildStore interface.
func (s *BadgerStore) PruneMissing(ctx context.Context, present map[string]bool) (map[string]models.PageDBEntry, error) {
	stale := make(map[string]models.PageDBEntry)
	err := s.forEachEntry(ctx, func(relPath string, entry models.PageDBEntry) error {
		if !present[relPath] {
			stale[relPath] = entry
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning for stale documents: %w", utils.ErrDatabase, err)
	}
	if len(stale) == 0 {
		return stale, nil
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		for relPath := range stale {
			if errDel := txn.Delete([]byte(pageKeyPrefix + relPath)); errDel != nil {
				return errDel
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: deleting stale documents: %w", utils.ErrDatabase, err)
	}
	s.keyCount.Add(-int64(len(stale)))
	s.log.Infof("Pruned %d documents no longer present in the source tree", len(stale))
	return stale, nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			for {
				// Rewrite while at least half of a value log file is reclaimable
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// WriteStatusLog implements the BuildStore interface.
func (s *BadgerStore) WriteStatusLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create status log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	written := 0
	var writeErr error

	iterErr := s.forEachEntry(s.ctx, func(relPath string, entry models.PageDBEntry) error {
		line := relPath + "\t" + entry.Status.String()
		if entry.ErrorType != "" {
			line += "\t" + entry.ErrorType
		}
		if _, err := writer.WriteString(line + "\n"); err != nil {
			writeErr = err
			return err
		}
		written++
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}

	if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
		return iterErr
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing status log '%s': %w", utils.ErrFilesystem, filePath, writeErr)
	}
	if iterErr != nil {
		return fmt.Errorf("%w: %w", utils.ErrDatabase, iterErr)
	}

	s.log.Infof("Wrote build status of %d documents to %s", written, filePath)
	return nil
}

// Close implements the BuildStore interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing build DB: %v", err)
			return err
		}
		s.log.Debug("Build DB closed.")
	}
	return nil
}
