package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/poet-crawler/pkg/log"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

const (
	requestKeyPrefix = "req:"        // Prefix for request fingerprint keys in DB
	requestsDBDir    = "requests_db" // Subdirectory suffix within stateDir for Badger DB files
)

var errStoreClosed = fmt.Errorf("%w: request DB not initialized", utils.ErrDatabase)

// BadgerStore implements VisitedStore using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached key count for O(1) GetVisitedCount
}

// NewBadgerStore opens the request DB of one spider under stateDir.
// An empty stateDir keeps the DB in memory (nothing survives Close).
// Without resume, existing state for the spider is removed first.
func NewBadgerStore(ctx context.Context, stateDir, spiderName string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}
	badgerLogger := log.NewBadgerLogrusAdapter(logger)

	var opts badger.Options
	if stateDir == "" {
		logger.Info("Initializing in-memory request database")
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath := filepath.Join(stateDir, utils.SanitizeFilename(spiderName)+"_"+requestsDBDir)
		if !resume {
			logger.Warnf("Resume flag is false. REMOVING existing state directory: %s", dbPath)
			if err := os.RemoveAll(dbPath); err != nil {
				logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
			}
		}
		logger.Infof("Initializing request database at: %s (Resume: %v)", dbPath, resume)
		if err := os.MkdirAll(dbPath, 0755); err != nil {
			return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
		}
		opts = badger.DefaultOptions(dbPath)
	}
	opts = opts.WithLogger(badgerLogger).WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %w", utils.ErrDatabase, err)
	}

	if resume && stateDir != "" {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing keys on resume: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Loaded existing lineage count on resume: %d", count)
		}
	}
	return store, nil
}

// countKeys performs a one-time full key scan (used only during initialization on resume).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(requestKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
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

func (s *BadgerStore) closed() bool {
	return s.db == nil || s.db.IsClosed()
}

// MarkRequestSeen implements RequestStore
func (s *BadgerStore) MarkRequestSeen(fingerprint string, entry *models.RequestDBEntry) (bool, error) {
	if s.closed() {
		return false, errStoreClosed
	}
	key := []byte(requestKeyPrefix + fingerprint)
	value, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("%w: failed to marshal JSON RequestDBEntry for key '%s': %w", utils.ErrParsing, key, err)
	}

	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(key, value)); errSet != nil {
				return errSet
			}
			added = true
			return nil
		}
		return errGet
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkRequestSeen: %v", err)
		return false, fmt.Errorf("%w: marking request key '%s': %w", utils.ErrDatabase, key, err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// CheckRequestStatus implements RequestStore
func (s *BadgerStore) CheckRequestStatus(fingerprint string) (models.RequestStatus, *models.RequestDBEntry, error) {
	if s.closed() {
		return models.RequestStatusDBError, nil, errStoreClosed
	}
	status := models.RequestStatusNotFound
	var entry *models.RequestDBEntry
	key := []byte(requestKeyPrefix + fingerprint)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting request key '%s': %w", utils.ErrDatabase, key, errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.RequestDBEntry
			if len(val) == 0 || json.Unmarshal(val, &decoded) != nil {
				s.log.Warnf("Unreadable RequestDBEntry for key '%s'. Treating as 'pending'.", key)
				status = models.RequestStatusPending
				return nil
			}
			entry = &decoded
			status = decoded.Status
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in CheckRequestStatus for key '%s': %v", key, errView)
		return models.RequestStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateRequestStatus implements RequestStore
func (s *BadgerStore) UpdateRequestStatus(fingerprint string, entry *models.RequestDBEntry) error {
	if s.closed() {
		return errStoreClosed
	}
	key := []byte(requestKeyPrefix + fingerprint)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal JSON RequestDBEntry for key '%s': %w", utils.ErrParsing, key, errJSON)
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
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateRequestStatus: %v", err)
		return fmt.Errorf("%w: failed setting request status for key '%s': %w", utils.ErrDatabase, key, err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	s.log.Debugf("Updated request status for key '%s' to '%s'", key, entry.Status)
	return nil
}

// GetVisitedCount implements StoreAdmin
func (s *BadgerStore) GetVisitedCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.closed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// RequeueIncomplete implements StoreAdmin. Lineages that were retrying keep
// their retry count and bypass the duplicate filter.
func (s *BadgerStore) RequeueIncomplete(ctx context.Context, out chan<- *models.Request) (int, int, error) {
	s.log.Info("Resume Mode: Scanning database for incomplete requests to requeue...")
	requeuedCount := 0
	scanErrors := 0
	scanStartTime := time.Now()

	scanErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(requestKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))

			var entry models.RequestDBEntry
			errValue := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if errValue != nil {
				s.log.Errorf("Resume Scan: Failed reading entry for '%s': %v. Skipping.", key, errValue)
				scanErrors++
				continue
			}
			if entry.Status.IsTerminal() || entry.URL == "" {
				continue
			}

			req := &models.Request{
				URL:        entry.URL,
				Method:     entry.Method,
				Header:     entry.Header,
				Body:       entry.Body,
				Meta:       entry.Meta,
				Priority:   entry.Priority,
				RetryCount: entry.RetryCount,
				DontFilter: true,
			}
			if entry.RetryReason != "" {
				if req.Meta == nil {
					req.Meta = make(map[string]any, 1)
				}
				req.Meta[models.MetaRetryReason] = entry.RetryReason
			}
			s.log.Debugf("Resume Scan: Requeueing '%s' (Status: %s, RetryCount: %d)", entry.URL, entry.Status, entry.RetryCount)
			select {
			case out <- req:
				requeuedCount++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if scanErr != nil && !errors.Is(scanErr, context.Canceled) && !errors.Is(scanErr, context.DeadlineExceeded) {
		s.log.Errorf("Error during DB scan for resume: %v.", scanErr)
		scanErr = fmt.Errorf("%w: resume scan: %w", utils.ErrDatabase, scanErr)
	}
	s.log.Infof("Resume Scan Complete: Requeued %d requests in %v. Errors: %d.", requeuedCount, time.Since(scanStartTime), scanErrors)
	return requeuedCount, scanErrors, scanErr
}

// WriteVisitedLog implements StoreAdmin
func (s *BadgerStore) WriteVisitedLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var writeErr error
	writtenCount := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(requestKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := s.ctx.Err(); err != nil {
				return err
			}
			var entry models.RequestDBEntry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				s.log.Warnf("Skipping unreadable entry in visited log: %v", err)
				continue
			}
			method := entry.Method
			if method == "" {
				method = "GET"
			}
			if _, err := fmt.Fprintf(writer, "%s %s %s\n", entry.Status, method, entry.URL); err != nil && writeErr == nil {
				writeErr = err
			}
			writtenCount++
		}
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}

	if iterErr != nil {
		return iterErr
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing visited log '%s': %w", utils.ErrFilesystem, filePath, writeErr)
	}
	s.log.Infof("Wrote %d lineages to visited log: %s", writtenCount, filePath)
	return nil
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.closed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing request DB: %v", err)
		return fmt.Errorf("%w: closing request DB: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Request DB closed.")
	return nil
}
