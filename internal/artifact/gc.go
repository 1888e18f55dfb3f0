package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
)

// GCReport summarizes one garbage-collection pass.
type GCReport struct {
	BlobsEvicted      int
	BytesFreed        int64
	OrphansEvicted    int
	UtilizationBefore float64
	UtilizationAfter  float64
}

// CompactReport summarizes an orphan-only sweep.
type CompactReport struct {
	OrphansRemoved int
	BytesReclaimed int64
}

type referenceScan struct {
	// hashSizes maps a blob hash to its size in bytes, for every blob that
	// physically exists on disk.
	hashSizes map[string]int64
	// hashReferrers maps a blob hash to the artifact IDs whose index
	// records point at it. A hash present in hashSizes but absent (or
	// empty) here is an orphan blob.
	hashReferrers map[string][]string
	// hashLastAccess is the most recent last_access across all referring
	// index records for a hash (used as the LRU key for referenced
	// blobs).
	hashLastAccess map[string]time.Time
	indexCount     int
}

// scanReferences walks artifacts/ and index/ to build the hash -> referrer
// map GC and disk-usage reporting both need. Grounded on the teacher's
// internal/storage/garbage_collector.go reference-counting sweep, adapted
// from an in-memory block map to real directory walks.
func (s *Store) scanReferences() (referenceScan, error) {
	scan := referenceScan{
		hashSizes:      make(map[string]int64),
		hashReferrers:  make(map[string][]string),
		hashLastAccess: make(map[string]time.Time),
	}

	artifactsRoot := filepath.Join(s.baseDir, "artifacts")
	shardDirs, err := os.ReadDir(artifactsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return scan, nil
		}
		return scan, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.scanReferences", "", err)
	}
	for _, shard := range shardDirs {
		if !shard.IsDir() {
			continue
		}
		blobs, err := os.ReadDir(filepath.Join(artifactsRoot, shard.Name()))
		if err != nil {
			continue
		}
		for _, blob := range blobs {
			if blob.IsDir() {
				continue
			}
			info, err := blob.Info()
			if err != nil {
				continue
			}
			scan.hashSizes[blob.Name()] = info.Size()
		}
	}

	indexRoot := filepath.Join(s.baseDir, "index")
	indexEntries, err := os.ReadDir(indexRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return scan, nil
		}
		return scan, cachetypes.NewError(cachetypes.KindArtifactIO, "artifact.scanReferences", "", err)
	}

	for _, entry := range indexEntries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(indexRoot, entry.Name()))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		scan.indexCount++
		scan.hashReferrers[meta.Hash] = append(scan.hashReferrers[meta.Hash], meta.ArtifactID)
		if meta.LastAccess.After(scan.hashLastAccess[meta.Hash]) {
			scan.hashLastAccess[meta.Hash] = meta.LastAccess
		}
	}

	return scan, nil
}

// maybeGC runs a GC pass when current usage exceeds the configured size
// limit. Called after every Store under the Store's own lock.
func (s *Store) maybeGC() error {
	if s.sizeLimitBytes <= 0 {
		return nil
	}
	usage, err := s.diskUsageLocked()
	if err != nil {
		return err
	}
	if usage.TotalBytes <= s.sizeLimitBytes {
		return nil
	}
	target := int64(float64(s.sizeLimitBytes) * s.gcTargetUtilization)
	bytesToFree := usage.TotalBytes - target
	_, err = s.runGCLocked(bytesToFree)
	return err
}

// RunGC forces a garbage-collection pass, freeing at least bytesToFree
// bytes (or until utilization reaches the configured target, whichever
// comes first). Exposed for operator-triggered GC per spec §4.6.
func (s *Store) RunGC(bytesToFree int64) (GCReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runGCLocked(bytesToFree)
}

func (s *Store) runGCLocked(bytesToFree int64) (GCReport, error) {
	scan, err := s.scanReferences()
	if err != nil {
		return GCReport{}, err
	}

	var totalBefore int64
	for _, size := range scan.hashSizes {
		totalBefore += size
	}
	utilBefore := 0.0
	if s.sizeLimitBytes > 0 {
		utilBefore = float64(totalBefore) / float64(s.sizeLimitBytes)
	}

	targetBytes := int64(float64(s.sizeLimitBytes) * s.gcTargetUtilization)

	type candidate struct {
		hash       string
		size       int64
		lastAccess time.Time
		orphan     bool
	}
	var candidates []candidate
	for hash, size := range scan.hashSizes {
		referrers := scan.hashReferrers[hash]
		candidates = append(candidates, candidate{
			hash:       hash,
			size:       size,
			lastAccess: scan.hashLastAccess[hash],
			orphan:     len(referrers) == 0,
		})
	}
	// Orphans first, then referenced blobs ascending by last_access
	// (least-recently-used first), per spec §4.6's eviction order.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].orphan != candidates[j].orphan {
			return candidates[i].orphan
		}
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	report := GCReport{UtilizationBefore: utilBefore}
	freed := int64(0)
	remaining := totalBefore

	for _, c := range candidates {
		if freed >= bytesToFree || remaining <= targetBytes {
			break
		}
		if err := os.Remove(s.blobPath(c.hash)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("gc failed to remove blob", zap.String("hash", c.hash), zap.Error(err))
			continue
		}
		for _, artifactID := range scan.hashReferrers[c.hash] {
			if err := os.Remove(s.indexPath(artifactID)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("gc failed to remove referring index", zap.String("artifact_id", artifactID), zap.Error(err))
			}
		}

		freed += c.size
		remaining -= c.size
		report.BlobsEvicted++
		if c.orphan {
			report.OrphansEvicted++
		}
	}

	report.BytesFreed = freed
	if s.sizeLimitBytes > 0 {
		report.UtilizationAfter = float64(remaining) / float64(s.sizeLimitBytes)
	}
	return report, nil
}

// Compact removes every orphan blob (one with no referring index record)
// regardless of disk pressure, per spec §4.6's standalone compaction
// operation.
func (s *Store) Compact() (CompactReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, err := s.scanReferences()
	if err != nil {
		return CompactReport{}, err
	}

	report := CompactReport{}
	for hash, size := range scan.hashSizes {
		if len(scan.hashReferrers[hash]) > 0 {
			continue
		}
		if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("compact failed to remove orphan blob", zap.String("hash", hash), zap.Error(err))
			continue
		}
		report.OrphansRemoved++
		report.BytesReclaimed += size
	}
	return report, nil
}
