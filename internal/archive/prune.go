package archive

import (
	"fmt"
	"sort"
	"time"

	"github.com/coldvault/coldvault/internal/cache"
	"github.com/coldvault/coldvault/internal/repository"
)

// RetentionPolicy is a borgbackup-style keep-N-per-bucket prune
// policy: KeepLast keeps the N most recent archives outright; each
// KeepX field keeps, independently, the newest archive within each of
// the last N distinct hourly/daily/weekly/monthly/yearly periods.
type RetentionPolicy struct {
	KeepLast    int
	KeepHourly  int
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	KeepYearly  int
}

// Pruner deletes archives that fall outside a retention policy,
// decrementing and reclaiming the chunks only they referenced.
type Pruner struct {
	Repo   *repository.Repository
	Chunks *cache.ChunksIndex
}

// PruneResult reports what Prune did.
type PruneResult struct {
	Kept    []string
	Removed []string
}

// Prune applies policy to manifest.Archives as of now, removing every
// archive not selected for retention: it decrements the refcount of
// every chunk the archive's item stream and file content reference,
// issuing a repository Delete for any chunk (and for the archive
// object itself) that drops to zero, then removes the archive's entry
// from the manifest and saves it. Checkpoint archives (Archive.Checkpoint)
// are never kept by policy and are always pruned.
func (p *Pruner) Prune(manifest *Manifest, policy RetentionPolicy, now time.Time) (PruneResult, error) {
	type entry struct {
		name string
		ref  ArchiveRef
	}
	var all []entry
	for name, ref := range manifest.Archives {
		if ref.Timestamp.After(now) {
			continue // not yet current as of now, leave untouched
		}
		all = append(all, entry{name: name, ref: ref})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ref.Timestamp.After(all[j].ref.Timestamp) })

	keep := make(map[string]bool, len(all))
	for i, e := range all {
		if i < policy.KeepLast {
			keep[e.name] = true
		}
	}

	buckets := []struct {
		n   int
		key func(time.Time) string
	}{
		{policy.KeepHourly, hourlyBucket},
		{policy.KeepDaily, dailyBucket},
		{policy.KeepWeekly, weeklyBucket},
		{policy.KeepMonthly, monthlyBucket},
		{policy.KeepYearly, yearlyBucket},
	}
	for _, b := range buckets {
		if b.n <= 0 {
			continue
		}
		seen := make(map[string]bool, b.n)
		count := 0
		for _, e := range all {
			if count >= b.n {
				break
			}
			key := b.key(e.ref.Timestamp)
			if seen[key] {
				continue
			}
			seen[key] = true
			count++
			keep[e.name] = true
		}
	}

	var result PruneResult
	for _, e := range all {
		isCheckpoint, err := p.isCheckpoint(e.ref)
		if err != nil {
			return result, err
		}
		if keep[e.name] && !isCheckpoint {
			result.Kept = append(result.Kept, e.name)
			continue
		}
		if err := p.removeArchive(manifest, e.name, e.ref); err != nil {
			return result, fmt.Errorf("archive: prune %q: %w", e.name, err)
		}
		result.Removed = append(result.Removed, e.name)
	}

	if err := manifest.Save(p.Repo, p.Repo.Keys()); err != nil {
		return result, err
	}
	return result, p.Repo.Commit()
}

func (p *Pruner) isCheckpoint(ref ArchiveRef) (bool, error) {
	payload, err := p.Repo.Get(ref.ID)
	if err != nil {
		return false, err
	}
	arc, err := UnmarshalArchive(payload)
	if err != nil {
		return false, err
	}
	return arc.Checkpoint, nil
}

// removeArchive decrements refcounts for every chunk the archive
// transitively references and deletes the archive object itself,
// then drops its manifest entry.
func (p *Pruner) removeArchive(manifest *Manifest, name string, ref ArchiveRef) error {
	payload, err := p.Repo.Get(ref.ID)
	if err != nil {
		return err
	}
	arc, err := UnmarshalArchive(payload)
	if err != nil {
		return err
	}

	var streamData []byte
	for _, chunkID := range arc.ItemStreamChunkIDs {
		plaintext, err := p.Repo.Get(chunkID)
		if err != nil {
			return err
		}
		streamData = append(streamData, plaintext...)
		if err := p.decrefChunk(chunkID); err != nil {
			return err
		}
	}

	items, err := DecodeItemStream(streamData)
	if err != nil {
		return err
	}
	for _, it := range items {
		for _, c := range it.Chunks {
			if err := p.decrefChunk(c.ID); err != nil {
				return err
			}
		}
	}

	if err := p.Repo.Delete(ref.ID); err != nil {
		return err
	}
	delete(manifest.Archives, name)
	return nil
}

// decrefChunk drops id's cache refcount by one, issuing a repository
// Delete once no archive references it any longer.
func (p *Pruner) decrefChunk(id []byte) error {
	entry, found, err := p.Chunks.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := p.Chunks.DecRef(id); err != nil {
		return err
	}
	if entry.Refcount <= 1 {
		return p.Repo.Delete(id)
	}
	return nil
}

func hourlyBucket(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d-%02d-%02d", t.Year(), t.Month(), t.Day(), t.Hour())
}

func dailyBucket(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

func weeklyBucket(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthlyBucket(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d", t.Year(), t.Month())
}

func yearlyBucket(t time.Time) string {
	return fmt.Sprintf("%04d", t.UTC().Year())
}
