package archive

import (
	"fmt"
	"time"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/repository"
)

// VerificationStatus classifies the outcome of verifying one object in
// a manifest's transitive closure.
type VerificationStatus int

const (
	VerificationSuccess VerificationStatus = iota + 1
	VerificationHashMismatch
	VerificationCorruptionDetected
)

func (vs VerificationStatus) String() string {
	switch vs {
	case VerificationSuccess:
		return "SUCCESS"
	case VerificationHashMismatch:
		return "HASH_MISMATCH"
	case VerificationCorruptionDetected:
		return "CORRUPTION_DETECTED"
	default:
		return "UNKNOWN"
	}
}

// ObjectKind identifies what role a failing object played in the
// closure walk, for reporting.
type ObjectKind string

const (
	KindArchive    ObjectKind = "archive"
	KindItemStream ObjectKind = "item-stream"
	KindFileChunk  ObjectKind = "chunk"
)

// ObjectFailure records one object that did not verify. Size is the
// plaintext size of the object when known from its owning item's chunk
// metadata (0 for an archive object or an item-stream chunk, whose
// size isn't recorded anywhere outside the object itself); Repair uses
// it to size a zero-filled replacement.
type ObjectFailure struct {
	ArchiveName string
	Kind        ObjectKind
	ID          []byte
	Status      VerificationStatus
	Size        int64
}

// VerificationResult is the outcome of walking one archive's full
// transitive closure (its archive object, its item-stream chunks, and
// every regular file's data chunks).
type VerificationResult struct {
	ArchiveName string
	Status      VerificationStatus
	Failures    []ObjectFailure
	ItemsWalked int
	ChunksWalked int
	Timestamp   time.Time

	// MerkleRootMismatch is set when the archive's recorded MerkleRoot
	// doesn't match one recomputed from its own ItemStreamChunkIDs:
	// the item stream's chunk ordering was altered after the archive
	// object was sealed, even though every individual chunk id still
	// reads back fine on its own.
	MerkleRootMismatch bool

	// ContentHashMismatches lists the paths of regular files (deep
	// verification only) whose chunks all fetched and re-hashed
	// individually fine, but whose concatenated content doesn't match
	// the whole-file digest recorded at capture time.
	ContentHashMismatches []string
}

// MerkleVerifier walks manifest-reachable objects and confirms each
// one decrypts and re-hashes to the id it is stored under. There is no
// second peer to countersign against here, unlike a transfer handshake:
// the repository's own authenticated encryption is the sole assurance.
type MerkleVerifier struct {
	repo *repository.Repository
}

// NewMerkleVerifier creates a verifier bound to repo.
func NewMerkleVerifier(repo *repository.Repository) *MerkleVerifier {
	return &MerkleVerifier{repo: repo}
}

// VerifyArchive walks name's full transitive closure: its archive
// object, its item-stream chunks, and (when deep is true) every
// regular file's data chunks.
func (mv *MerkleVerifier) VerifyArchive(name string, ref ArchiveRef, deep bool) VerificationResult {
	result := VerificationResult{ArchiveName: name, Status: VerificationSuccess, Timestamp: time.Now()}

	archivePayload, err := mv.repo.Get(ref.ID)
	if err != nil {
		result.Status = statusFor(err)
		result.Failures = append(result.Failures, ObjectFailure{ArchiveName: name, Kind: KindArchive, ID: ref.ID, Status: result.Status})
		return result
	}

	arc, err := UnmarshalArchive(archivePayload)
	if err != nil {
		result.Status = VerificationCorruptionDetected
		result.Failures = append(result.Failures, ObjectFailure{ArchiveName: name, Kind: KindArchive, ID: ref.ID, Status: VerificationCorruptionDetected})
		return result
	}

	var streamData []byte
	for _, chunkID := range arc.ItemStreamChunkIDs {
		plaintext, err := mv.repo.Get(chunkID)
		if err != nil {
			status := statusFor(err)
			result.Failures = append(result.Failures, ObjectFailure{ArchiveName: name, Kind: KindItemStream, ID: chunkID, Status: status})
			worsen(&result.Status, status)
			continue
		}
		streamData = append(streamData, plaintext...)
	}

	if len(result.Failures) == 0 && arc.MerkleRoot != "" {
		if got, err := chunker.ComputeMerkleRoot(base64ChunkIDs(arc.ItemStreamChunkIDs)); err != nil || got != arc.MerkleRoot {
			result.MerkleRootMismatch = true
			worsen(&result.Status, VerificationHashMismatch)
		}
	}

	if !deep || len(result.Failures) > 0 {
		return result
	}

	items, err := DecodeItemStream(streamData)
	if err != nil {
		result.Status = VerificationCorruptionDetected
		return result
	}
	result.ItemsWalked = len(items)

	for _, it := range items {
		var content []byte
		ok := true
		for _, chunk := range it.Chunks {
			result.ChunksWalked++
			plaintext, err := mv.repo.Get(chunk.ID)
			if err != nil {
				ok = false
				status := statusFor(err)
				result.Failures = append(result.Failures, ObjectFailure{
					ArchiveName: name, Kind: KindFileChunk, ID: chunk.ID, Status: status, Size: int64(chunk.Size),
				})
				worsen(&result.Status, status)
				continue
			}
			if it.Type == ItemRegular && it.ContentHash != "" {
				content = append(content, plaintext...)
			}
		}
		if ok && it.Type == ItemRegular && it.ContentHash != "" {
			if crypto.ComputeBytesHashB64(content) != it.ContentHash {
				result.ContentHashMismatches = append(result.ContentHashMismatches, it.Path)
				worsen(&result.Status, VerificationHashMismatch)
			}
		}
	}

	return result
}

// VerifyManifest walks every archive in m's closure.
func (mv *MerkleVerifier) VerifyManifest(m *Manifest, deep bool) []VerificationResult {
	results := make([]VerificationResult, 0, len(m.Archives))
	for name, ref := range m.Archives {
		results = append(results, mv.VerifyArchive(name, ref, deep))
	}
	return results
}

// RepairReport summarises what Repair did to a manifest.
type RepairReport struct {
	RemovedArchives   []string
	SubstitutedChunks int
}

// Repair salvages what it can from a set of VerifyManifest results:
// any archive whose own archive object failed to verify is dropped
// from manifest entirely (its contents can't be recovered without the
// object that names them), while a failing item-stream or file chunk
// belonging to an otherwise-readable archive is replaced in the
// repository with an all-zero object of the same size, so the archive
// stays structurally intact and readable at the cost of that chunk's
// content. Repair does not save manifest or commit repo; the caller
// does both once satisfied with the report.
func (mv *MerkleVerifier) Repair(manifest *Manifest, results []VerificationResult) (RepairReport, error) {
	var rep RepairReport

	for _, result := range results {
		if result.Status == VerificationSuccess {
			continue
		}

		archiveUnrecoverable := false
		for _, f := range result.Failures {
			if f.Kind == KindArchive {
				archiveUnrecoverable = true
				break
			}
		}
		if archiveUnrecoverable {
			delete(manifest.Archives, result.ArchiveName)
			rep.RemovedArchives = append(rep.RemovedArchives, result.ArchiveName)
			continue
		}

		for _, f := range result.Failures {
			zeros := make([]byte, f.Size)
			if err := mv.repo.Put(f.ID, zeros); err != nil {
				return rep, fmt.Errorf("archive: repair %x: %w", f.ID, err)
			}
			rep.SubstitutedChunks++
		}
	}

	return rep, nil
}

func statusFor(err error) VerificationStatus {
	if err == repository.ErrIDMismatch {
		return VerificationHashMismatch
	}
	return VerificationCorruptionDetected
}

func worsen(status *VerificationStatus, candidate VerificationStatus) {
	if *status == VerificationSuccess {
		*status = candidate
	}
}
