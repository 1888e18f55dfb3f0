// Package artifact implements the content-addressed blob store from spec
// §4.6: SHA-256-addressed, deduplicating, LRU-garbage-collected storage for
// large immutable payloads. Atomic writes (temp file + rename) and the
// process-level advisory lock are adapted directly from the teacher's
// internal/drivers/local.go (AtomicWrite) and internal/drivers/locking_unix.go
// (flock); the orphan/reference-counted GC model generalizes
// internal/storage/garbage_collector.go's block/reference bookkeeping from
// an in-memory simulation to a real on-disk store.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/retrypolicy"
)

const defaultGCTargetUtilization = 0.8

// Metadata is the per-artifact-ID index record, matching spec §6's JSON
// schema exactly.
type Metadata struct {
	ArtifactID   string    `json:"artifact_id"`
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	MimeType     *string   `json:"mime_type"`
	ETag         *string   `json:"etag"`
	LastModified *string   `json:"last_modified"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccess   time.Time `json:"last_access"`
}

// StoreResult is returned by Store, indicating whether the content was
// deduplicated against an existing blob.
type StoreResult struct {
	Metadata Metadata
	Deduped  bool
}

// DiskUsage summarizes on-disk footprint for health/metrics reporting.
type DiskUsage struct {
	TotalBytes    int64
	BlobCount     int
	IndexCount    int
	SizeLimit     int64
	UtilizationPc float64
}

// Store is the content-addressed artifact store rooted at baseDir.
type Store struct {
	mu                  sync.Mutex
	baseDir             string
	sizeLimitBytes      int64
	gcTargetUtilization float64
	clock               clock.Clock
	logger              *zap.Logger
	retry               retrypolicy.Policy
	lock                *processLock
	verifiedOnce        map[string]bool // hash -> integrity-verified this process lifetime
}

// Open creates (if needed) the artifacts/ and index/ subdirectories under
// baseDir, acquires the process lock, and returns a ready Store.
func Open(baseDir string, sizeLimitBytes int64, gcTargetUtilization float64, c clock.Clock, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.New()
	}
	if gcTargetUtilization <= 0 {
		gcTargetUtilization = defaultGCTargetUtilization
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "artifacts"), 0o750); err != nil {
		return nil, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.Open", "", err)
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "index"), 0o750); err != nil {
		return nil, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.Open", "", err)
	}

	lock, err := acquireProcessLock(filepath.Join(baseDir, "lockfile"))
	if err != nil {
		return nil, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.Open", "", err)
	}

	return &Store{
		baseDir:             baseDir,
		sizeLimitBytes:      sizeLimitBytes,
		gcTargetUtilization: gcTargetUtilization,
		clock:               c,
		logger:              logger,
		retry:               retrypolicy.Default(logger),
		lock:                lock,
		verifiedOnce:        make(map[string]bool),
	}, nil
}

// Close releases the process lock.
func (s *Store) Close() error {
	return s.lock.release()
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.baseDir, "artifacts", hash[:2], hash)
}

func (s *Store) indexPath(artifactID string) string {
	return filepath.Join(s.baseDir, "index", safeFilename(artifactID)+".json")
}

// Store computes the content hash, writes the blob if it doesn't already
// exist (deduplication), and writes/overwrites the index record for
// artifactID, per spec §4.6.
func (s *Store) Store(artifactID string, content []byte, mimeType, etag, lastModified *string) (StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	blobPath := s.blobPath(hash)

	deduped := false
	if _, err := os.Stat(blobPath); err == nil {
		deduped = true
	} else if !os.IsNotExist(err) {
		return StoreResult{}, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.Store", "", err)
	}

	if !deduped {
		if err := s.retry.Execute("artifact.store_blob", func() error {
			return atomicWrite(filepath.Join(s.baseDir, "artifacts", hash[:2]), blobPath, content)
		}); err != nil {
			return StoreResult{}, cachetypes.NewError(classifyIOError(err), "artifact.Store", "", err)
		}
	}

	now := s.clock.WallClock()
	meta := Metadata{
		ArtifactID:   artifactID,
		Hash:         hash,
		Size:         int64(len(content)),
		MimeType:     mimeType,
		ETag:         etag,
		LastModified: lastModified,
		CreatedAt:    now,
		LastAccess:   now,
	}
	if existing, err := s.readIndex(artifactID); err == nil {
		meta.CreatedAt = existing.CreatedAt
	}

	if err := s.writeIndex(artifactID, meta); err != nil {
		return StoreResult{}, err
	}

	if err := s.maybeGC(); err != nil {
		s.logger.Warn("artifact gc after store failed", zap.Error(err))
	}

	return StoreResult{Metadata: meta, Deduped: deduped}, nil
}

// Retrieve reads the index record then the blob, verifying content
// integrity at least once per process lifetime per hash (spec §4.6/§9). A
// missing index or blob yields (nil, Metadata{}, false, nil) plus a
// diagnostic log; a hash mismatch is fatal for that artifact: the blob is
// quarantined and ArtifactError{integrity} is returned.
func (s *Store) Retrieve(artifactID string) ([]byte, Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readIndex(artifactID)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("artifact index_orphan", zap.String("artifact_id", artifactID))
			return nil, Metadata{}, false, nil
		}
		return nil, Metadata{}, false, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.Retrieve", "", err)
	}

	blobPath := s.blobPath(meta.Hash)
	var content []byte
	err = s.retry.Execute("artifact.read_blob", func() error {
		var readErr error
		content, readErr = os.ReadFile(blobPath)
		return readErr
	})
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("artifact blob_orphan", zap.String("artifact_id", artifactID), zap.String("hash", meta.Hash))
			return nil, Metadata{}, false, nil
		}
		return nil, Metadata{}, false, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.Retrieve", "", err)
	}

	if !s.verifiedOnce[meta.Hash] {
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != meta.Hash {
			_ = os.Rename(blobPath, blobPath+".corrupt")
			return nil, Metadata{}, false, cachetypes.NewError(cachetypes.KindArtifactIntegrty, "artifact.Retrieve", "", fmt.Errorf("hash mismatch for %s", artifactID))
		}
		s.verifiedOnce[meta.Hash] = true
	}

	meta.LastAccess = s.clock.WallClock()
	if err := s.writeIndex(artifactID, meta); err != nil {
		s.logger.Warn("artifact failed to persist last_access", zap.Error(err))
	}

	return content, meta, true, nil
}

// Exists reports whether an index record exists for artifactID.
func (s *Store) Exists(artifactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.indexPath(artifactID))
	return err == nil
}

// Delete removes the index record for artifactID. The underlying blob is
// reclaimed later by GC once it has no remaining referrers.
func (s *Store) Delete(artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.indexPath(artifactID)); err != nil && !os.IsNotExist(err) {
		return cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.Delete", "", err)
	}
	return nil
}

// ListIDs returns every artifact ID whose ID has the given prefix (empty
// prefix lists all).
func (s *Store) ListIDs(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "index"))
	if err != nil {
		return nil, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.ListIDs", "", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.baseDir, "index", entry.Name()))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if prefix == "" || hasPrefix(meta.ArtifactID, prefix) {
			ids = append(ids, meta.ArtifactID)
		}
	}
	return ids, nil
}

// GetDiskUsage reports current on-disk footprint.
func (s *Store) GetDiskUsage() (DiskUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diskUsageLocked()
}

func (s *Store) diskUsageLocked() (DiskUsage, error) {
	refs, err := s.scanReferences()
	if err != nil {
		return DiskUsage{}, err
	}

	var totalBytes int64
	blobCount := 0
	for hash := range refs.hashSizes {
		totalBytes += refs.hashSizes[hash]
		blobCount++
	}

	var utilization float64
	if s.sizeLimitBytes > 0 {
		utilization = float64(totalBytes) / float64(s.sizeLimitBytes)
	}

	return DiskUsage{
		TotalBytes:    totalBytes,
		BlobCount:     blobCount,
		IndexCount:    refs.indexCount,
		SizeLimit:     s.sizeLimitBytes,
		UtilizationPc: utilization,
	}, nil
}

func (s *Store) readIndex(artifactID string) (Metadata, error) {
	raw, err := os.ReadFile(s.indexPath(artifactID))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (s *Store) writeIndex(artifactID string, meta Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.writeIndex", "", err)
	}
	indexDir := filepath.Join(s.baseDir, "index")
	if err := atomicWrite(indexDir, s.indexPath(artifactID), raw); err != nil {
		return cachetypes.NewError(classifyIOError(err), "artifact.writeIndex", "", err)
	}
	return nil
}

// atomicWrite is the temp-file-then-rename idiom from the teacher's
// internal/drivers/local.go AtomicWrite, adapted to take an in-memory
// byte slice instead of an io.Reader since artifact content and index
// records are both already fully materialized before being written.
func atomicWrite(dir, finalPath string, data []byte) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if tempFile != nil {
			_ = tempFile.Close()
		}
		if tempPath != "" {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tempFile = nil

	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	tempPath = ""
	return nil
}

func classifyIOError(err error) cachetypes.ErrorKind {
	if os.IsPermission(err) {
		return cachetypes.KindArtifactIO
	}
	if errors.Is(err, io.ErrShortWrite) {
		return cachetypes.KindArtifactQuota
	}
	return cachetypes.KindArtifactIO
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
