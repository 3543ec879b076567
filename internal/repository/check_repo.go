package repository

import (
	"bytes"
	"fmt"
	"os"
)

// CheckReport summarises the outcome of a repository check.
type CheckReport struct {
	SegmentsScanned  int
	ObjectsVerified  int
	CRCErrors        []string // segment paths with a corrupt frame
	IDMismatches     []string // hex ids whose decrypted content didn't re-hash
	DecryptFailures  []string // hex ids that failed to decrypt/authenticate
	MissingReferents []string // hex ids indexed but whose segment is gone
	ResumeSegment    uint64   // set when MaxSegments bounded the scan
}

// OK reports whether the check found no problems.
func (rep CheckReport) OK() bool {
	return len(rep.CRCErrors) == 0 && len(rep.IDMismatches) == 0 &&
		len(rep.DecryptFailures) == 0 && len(rep.MissingReferents) == 0
}

// Check verifies every segment's magic and every entry's CRC and
// size. If verifyData is true, it additionally decrypts every object
// referenced by the index and re-verifies its id. maxSegments bounds
// the scan to that many segments starting at startSegment (0 for
// unbounded), supporting `--max-duration`-style partial checks; the
// returned ResumeSegment is where the next partial check should start.
func (r *Repository) Check(verifyData bool, startSegment uint64, maxSegments int) (CheckReport, error) {
	var rep CheckReport

	highest, err := r.index.HighestSegment()
	if err != nil {
		return rep, err
	}

	scanned := 0
	num := startSegment
	for num <= highest {
		if maxSegments > 0 && scanned >= maxSegments {
			rep.ResumeSegment = num
			break
		}
		path := r.segmentPath(num)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			num++
			continue
		}

		scan, err := ScanSegment(path)
		if err != nil {
			rep.CRCErrors = append(rep.CRCErrors, path)
			num++
			scanned++
			continue
		}
		info, statErr := os.Stat(path)
		if statErr == nil && scan.ValidLength != info.Size() {
			rep.CRCErrors = append(rep.CRCErrors, path)
		}

		rep.SegmentsScanned++
		scanned++
		num++
	}

	if !verifyData {
		return rep, nil
	}

	err = r.index.ForEach(func(id []byte, loc Location) error {
		if loc.Segment < startSegment || (rep.ResumeSegment != 0 && loc.Segment >= rep.ResumeSegment) {
			return nil
		}
		path := r.segmentPath(loc.Segment)
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			rep.MissingReferents = append(rep.MissingReferents, fmt.Sprintf("%x", id))
			return nil
		}
		entry, readErr := ReadEntryAt(path, loc.Offset)
		if readErr != nil || entry.Tag != EntryPut || !bytes.Equal(entry.ID, id) {
			rep.MissingReferents = append(rep.MissingReferents, fmt.Sprintf("%x", id))
			return nil
		}
		plaintext, openErr := r.open(id, entry.Payload, true)
		if openErr != nil {
			if openErr == ErrIDMismatch {
				rep.IDMismatches = append(rep.IDMismatches, fmt.Sprintf("%x", id))
			} else {
				rep.DecryptFailures = append(rep.DecryptFailures, fmt.Sprintf("%x", id))
			}
			return nil
		}
		_ = plaintext
		rep.ObjectsVerified++
		return nil
	})

	return rep, err
}

// Rebuild discards the persistent index and rebuilds it from scratch
// by replaying every segment's PUT/DELETE entries in order, used by
// --repair when the index itself is suspect.
func (r *Repository) Rebuild() error {
	if err := r.index.Reset(); err != nil {
		return err
	}

	num := uint64(0)
	var lastSealed uint64
	sawAny := false
	for {
		path := r.segmentPath(num)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		scan, err := ScanSegment(path)
		if err != nil {
			num++
			continue
		}
		for i, entry := range scan.Entries {
			if err := r.replayEntry(num, scan.Offsets[i], entry); err != nil {
				return err
			}
		}
		if scan.Sealed {
			lastSealed = num
			sawAny = true
		}
		num++
	}
	if sawAny {
		return r.index.SetHighestSegment(lastSealed)
	}
	return nil
}
