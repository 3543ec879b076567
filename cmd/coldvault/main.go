// Command coldvault is the deduplicating, authenticated-encryption
// backup client: it creates, lists, extracts, prunes, recreates, and
// checks archives against a local or remote coldvault repository.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/coldvault/coldvault/internal/archive"
	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/config"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/observability"
	"github.com/coldvault/coldvault/internal/repository"
	"github.com/coldvault/coldvault/internal/validation"
	"github.com/coldvault/coldvault/internal/walker"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var cmdErr error
	switch command {
	case "init":
		cmdErr = initCmd(cfg, args)
	case "create":
		cmdErr = createCmd(cfg, args)
	case "extract":
		cmdErr = extractCmd(cfg, args)
	case "list":
		cmdErr = listCmd(cfg, args)
	case "prune":
		cmdErr = pruneCmd(cfg, args)
	case "recreate":
		cmdErr = recreateCmd(cfg, args)
	case "check":
		cmdErr = checkCmd(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println("coldvault - deduplicating, authenticated-encryption backup")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coldvault init      --repo PATH --mode none|repokey|keyfile [--compression SPEC]")
	fmt.Println("  coldvault create    --repo PATH --name NAME PATH...")
	fmt.Println("  coldvault extract   --repo PATH --name NAME [--dest DIR] [--strip N]")
	fmt.Println("  coldvault list      --repo PATH")
	fmt.Println("  coldvault prune     --repo PATH [--keep-last N] [--keep-daily N] ... [--compact]")
	fmt.Println("  coldvault recreate  --repo PATH --name NAME [--chunker-params MIN,MAX,MASKBITS,WINDOW] [--compression SPEC]")
	fmt.Println("  SPEC: none, lz4, zstd, zlib, lzma, auto[:inner], obfuscate:LEVEL[:inner]")
	fmt.Println("  coldvault check     --repo PATH [--archive NAME] [--deep] [--verify-data] [--max-duration DUR] [--start-segment N] [--repair]")
	fmt.Println()
	fmt.Println("Run 'coldvault <command> -h' for command-specific help")
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger("coldvault", archive.Version, os.Stdout)
}

func initCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Repository path")
	mode := fs.String("mode", "repokey", "Encryption mode: none, repokey, keyfile")
	compression := fs.String("compression", "lz4", "Compression: none, lz4, zstd, zlib, lzma, auto[:inner], obfuscate:LEVEL[:inner]")
	fs.Parse(args)

	path := resolveRepoPath(cfg, *repoPath)
	if path == "" {
		return fmt.Errorf("no repository path given (use --repo or COLDVAULT_REPO)")
	}

	encMode := repository.EncryptionMode(*mode)
	switch encMode {
	case repository.ModeNone, repository.ModeRepokey, repository.ModeKeyfile:
	default:
		return fmt.Errorf("unknown encryption mode %q", *mode)
	}

	compSpec, err := parseCompressionSpec(*compression)
	if err != nil {
		return fmt.Errorf("--compression: %w", err)
	}

	rc, err := repository.Create(path, encMode)
	if err != nil {
		return err
	}
	rc.CompressionTag = compSpec.tag
	rc.AutoInnerTag = compSpec.autoInner
	rc.ObfuscateInnerTag = compSpec.obfuscateInner
	rc.ObfuscateLevel = compSpec.obfuscateLevel

	if encMode == repository.ModeNone {
		if err := rc.Save(path); err != nil {
			return fmt.Errorf("save repository config: %w", err)
		}
		fmt.Printf("Initialized unencrypted repository at %s (id %s)\n", path, rc.ID)
		return nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate master secret: %w", err)
	}

	fmt.Fprint(os.Stderr, "Enter a new passphrase: ")
	p1, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	p2, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	if string(p1) != string(p2) {
		return fmt.Errorf("passphrases do not match")
	}
	passphrase := string(p1)

	switch encMode {
	case repository.ModeRepokey:
		wrapped, err := crypto.WrapMasterSecret(secret, passphrase)
		if err != nil {
			return fmt.Errorf("wrap master secret: %w", err)
		}
		rc.WrappedMasterSecret = wrapped
		if err := rc.Save(path); err != nil {
			return fmt.Errorf("save repository config: %w", err)
		}
		fmt.Printf("Initialized repokey repository at %s (id %s)\n", path, rc.ID)
	case repository.ModeKeyfile:
		keyPath := cfg.KeyFilePath
		if keyPath == "" {
			keyPath = filepath.Join(crypto.GetDefaultKeystorePath(), rc.ID+".key")
		}
		if err := crypto.SaveMasterSecret(secret, keyPath, passphrase); err != nil {
			return fmt.Errorf("save keyfile: %w", err)
		}
		if err := rc.Save(path); err != nil {
			return fmt.Errorf("save repository config: %w", err)
		}
		fmt.Printf("Initialized keyfile repository at %s (id %s)\n", path, rc.ID)
		fmt.Printf("Keyfile written to %s; keep it safe, it is required to unlock this repository.\n", keyPath)
	}

	return nil
}

func createCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Repository path")
	name := fs.String("name", "", "Archive name (supports {now}, {hostname}, ... placeholders)")
	excludePatterns := fs.String("exclude", "", "Comma-separated exclude/include glob patterns")
	comment := fs.String("comment", "", "Archive comment")
	checkpointEvery := fs.Int("checkpoint-every", 0, "Write a checkpoint archive every N files (0 disables)")
	fs.Parse(args)

	sourcePaths := fs.Args()
	if len(sourcePaths) == 0 {
		return fmt.Errorf("no source paths given")
	}
	for _, p := range sourcePaths {
		if err := validation.ValidateFilePath(p, true); err != nil {
			return fmt.Errorf("source path %q: %w", p, err)
		}
	}

	path := resolveRepoPath(cfg, *repoPath)
	if path == "" {
		return fmt.Errorf("no repository path given")
	}

	logger := newLogger(cfg)
	repo, err := openRepository(cfg, path)
	if err != nil {
		return err
	}
	defer repo.Close()

	chunks, files, err := openCaches(cfg, repo.Config().ID)
	if err != nil {
		return err
	}
	defer chunks.Close()
	defer files.Close()

	manifest, err := archive.LoadManifest(repo, repo.Keys(), repo.Config().Mode != repository.ModeNone)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	archiveName := *name
	if archiveName == "" {
		archiveName = "{hostname}-{now:2006-01-02T15:04:05}"
	}
	expanded, err := archive.ExpandName(archiveName, time.Now())
	if err != nil {
		return fmt.Errorf("expand archive name: %w", err)
	}
	if _, exists := manifest.Archives[expanded]; exists {
		return fmt.Errorf("archive %q already exists", expanded)
	}

	var matcher walker.Matcher = walker.AlwaysMatch
	if *excludePatterns != "" {
		matcher = walker.NewPatternMatcher(strings.Split(*excludePatterns, ","))
	}

	cr := &archive.Creator{Repo: repo, Keys: repo.Keys(), Chunks: chunks, Files: files}
	logger.WithArchive(expanded).Info("starting archive creation")

	arc, session, err := cr.Create(archive.CreateOptions{
		ArchiveName:     expanded,
		SourcePaths:     sourcePaths,
		Matcher:         matcher,
		ChunkerParams:   manifest.ChunkerParams,
		CompressionTag:  manifest.CompressionTag,
		Comment:         *comment,
		CommandLine:     os.Args,
		CheckpointEvery: *checkpointEvery,
	})
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	fmt.Printf("Archive %q created: %d files walked, session state %s\n", expanded, session.FilesDone, session.State)
	fmt.Printf("  start: %s  end: %s\n", arc.StartTime.Format(time.RFC3339), arc.EndTime.Format(time.RFC3339))
	return nil
}

func extractCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Repository path")
	name := fs.String("name", "", "Archive name")
	dest := fs.String("dest", ".", "Destination directory")
	strip := fs.Int("strip", 0, "Strip this many leading path components")
	dryRun := fs.Bool("dry-run", false, "List what would be restored without writing")
	fs.Parse(args)

	if err := validation.ValidateStringNonEmpty(*name); err != nil {
		return fmt.Errorf("--name: %w", err)
	}

	path := resolveRepoPath(cfg, *repoPath)
	if path == "" {
		return fmt.Errorf("no repository path given")
	}

	repo, err := openRepository(cfg, path)
	if err != nil {
		return err
	}
	defer repo.Close()

	manifest, err := archive.LoadManifest(repo, repo.Keys(), repo.Config().Mode != repository.ModeNone)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	re := &archive.Restorer{Repo: repo, Keys: repo.Keys()}
	result, err := re.Restore(manifest, archive.RestoreOptions{
		ArchiveName: *name,
		Destination: *dest,
		Strip:       *strip,
		DryRun:      *dryRun,
	})
	if err != nil {
		return fmt.Errorf("restore archive: %w", err)
	}

	fmt.Printf("Restored %d items (%d bytes) from %q\n", result.ItemsRestored, result.BytesWritten, *name)
	for _, skipped := range result.Skipped {
		fmt.Printf("  skipped: %s\n", skipped)
	}
	return nil
}

func listCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Repository path")
	fs.Parse(args)

	path := resolveRepoPath(cfg, *repoPath)
	if path == "" {
		return fmt.Errorf("no repository path given")
	}

	repo, err := openRepository(cfg, path)
	if err != nil {
		return err
	}
	defer repo.Close()

	manifest, err := archive.LoadManifest(repo, repo.Keys(), repo.Config().Mode != repository.ModeNone)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	names := make([]string, 0, len(manifest.Archives))
	for name := range manifest.Archives {
		if strings.HasSuffix(name, ".checkpoint") {
			continue // checkpoint archives are hidden from normal listings
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref := manifest.Archives[name]
		fmt.Printf("%-40s %s\n", name, ref.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func pruneCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Repository path")
	keepLast := fs.Int("keep-last", 0, "Number of most recent archives to keep unconditionally")
	keepHourly := fs.Int("keep-hourly", 0, "Number of hourly archives to keep")
	keepDaily := fs.Int("keep-daily", 0, "Number of daily archives to keep")
	keepWeekly := fs.Int("keep-weekly", 0, "Number of weekly archives to keep")
	keepMonthly := fs.Int("keep-monthly", 0, "Number of monthly archives to keep")
	keepYearly := fs.Int("keep-yearly", 0, "Number of yearly archives to keep")
	compact := fs.Bool("compact", false, "Rewrite segments that Delete left below the compaction live-ratio threshold")
	fs.Parse(args)

	path := resolveRepoPath(cfg, *repoPath)
	if path == "" {
		return fmt.Errorf("no repository path given")
	}

	repo, err := openRepository(cfg, path)
	if err != nil {
		return err
	}
	defer repo.Close()

	chunks, files, err := openCaches(cfg, repo.Config().ID)
	if err != nil {
		return err
	}
	defer chunks.Close()
	defer files.Close()

	manifest, err := archive.LoadManifest(repo, repo.Keys(), repo.Config().Mode != repository.ModeNone)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	p := &archive.Pruner{Repo: repo, Chunks: chunks}
	result, err := p.Prune(manifest, archive.RetentionPolicy{
		KeepLast:    *keepLast,
		KeepHourly:  *keepHourly,
		KeepDaily:   *keepDaily,
		KeepWeekly:  *keepWeekly,
		KeepMonthly: *keepMonthly,
		KeepYearly:  *keepYearly,
	}, time.Now())
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Printf("Kept %d archives, removed %d\n", len(result.Kept), len(result.Removed))
	for _, name := range result.Removed {
		fmt.Printf("  removed: %s\n", name)
	}

	if *compact {
		compacted, err := repo.DrainCompaction(8)
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		fmt.Printf("Compacted %d segment(s)\n", len(compacted))
		for _, seg := range compacted {
			fmt.Printf("  compacted: segment %s\n", seg)
		}
	}
	return nil
}

func recreateCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("recreate", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Repository path")
	name := fs.String("name", "", "Archive name to rewrite")
	params := fs.String("chunker-params", "", "New chunker params as min,max,maskbits,window (defaults to the manifest's current params)")
	compression := fs.String("compression", "", "Reconfigure repository compression before rewriting: none, lz4, zstd, zlib, lzma, auto[:inner], obfuscate:LEVEL[:inner] (default: keep the manifest's current setting)")
	fs.Parse(args)

	if err := validation.ValidateStringNonEmpty(*name); err != nil {
		return fmt.Errorf("--name: %w", err)
	}

	path := resolveRepoPath(cfg, *repoPath)
	if path == "" {
		return fmt.Errorf("no repository path given")
	}

	repo, err := openRepository(cfg, path)
	if err != nil {
		return err
	}
	defer repo.Close()

	chunks, files, err := openCaches(cfg, repo.Config().ID)
	if err != nil {
		return err
	}
	defer chunks.Close()
	defer files.Close()

	manifest, err := archive.LoadManifest(repo, repo.Keys(), repo.Config().Mode != repository.ModeNone)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	newParams := manifest.ChunkerParams
	if *params != "" {
		parsed, err := parseChunkerParams(*params)
		if err != nil {
			return err
		}
		newParams = parsed
	}

	newCompressionTag := manifest.CompressionTag
	if *compression != "" {
		spec, err := parseCompressionSpec(*compression)
		if err != nil {
			return fmt.Errorf("--compression: %w", err)
		}
		if err := repo.SetCompressionConfig(spec.tag, spec.autoInner, spec.obfuscateInner, spec.obfuscateLevel); err != nil {
			return fmt.Errorf("reconfigure compression: %w", err)
		}
		newCompressionTag = spec.tag
	}

	rc := &archive.Recreator{Repo: repo, Keys: repo.Keys(), Chunks: chunks}
	newArc, err := rc.Recreate(manifest, archive.RecreateOptions{
		ArchiveName:    *name,
		ChunkerParams:  newParams,
		CompressionTag: newCompressionTag,
	})
	if err != nil {
		return fmt.Errorf("recreate: %w", err)
	}

	fmt.Printf("Archive %q rewritten under chunker params %+v\n", *name, newArc.ChunkerParams)
	return nil
}

func checkCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Repository path")
	archiveName := fs.String("archive", "", "Check only this archive (default: all)")
	deep := fs.Bool("deep", false, "Also verify every file's data chunks, not just the item stream")
	verifyData := fs.Bool("verify-data", false, "Decrypt and re-hash every indexed object against its stored id, not just scan segment framing")
	maxDuration := fs.Duration("max-duration", 0, "Bound the segment scan to this long, reporting where a resumed check should pick up (0: unbounded)")
	startSegment := fs.Uint64("start-segment", 0, "Resume a --max-duration segment scan from this segment number (see prior run's reported resume point)")
	repair := fs.Bool("repair", false, "Rebuild the index from the segment log and salvage archives with corrupted or missing objects")
	fs.Parse(args)

	path := resolveRepoPath(cfg, *repoPath)
	if path == "" {
		return fmt.Errorf("no repository path given")
	}

	repo, err := openRepository(cfg, path)
	if err != nil {
		return err
	}
	defer repo.Close()

	if *repair {
		if err := repo.Rebuild(); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
		fmt.Println("index rebuilt from segment log")
	}

	segRep, err := runSegmentCheck(repo, *verifyData, *maxDuration, *startSegment)
	if err != nil {
		return fmt.Errorf("segment check: %w", err)
	}
	printSegmentReport(segRep)

	manifest, err := archive.LoadManifest(repo, repo.Keys(), repo.Config().Mode != repository.ModeNone)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	mv := archive.NewMerkleVerifier(repo)

	var results []archive.VerificationResult
	if *archiveName != "" {
		ref, ok := manifest.Archives[*archiveName]
		if !ok {
			return fmt.Errorf("no such archive %q", *archiveName)
		}
		results = []archive.VerificationResult{mv.VerifyArchive(*archiveName, ref, *deep)}
	} else {
		results = mv.VerifyManifest(manifest, *deep)
	}

	failed := 0
	for _, r := range results {
		fmt.Printf("%-40s %s (%d items, %d chunks walked)\n", r.ArchiveName, r.Status, r.ItemsWalked, r.ChunksWalked)
		if r.Status != archive.VerificationSuccess {
			failed++
			for _, f := range r.Failures {
				fmt.Printf("  %s %x: %s\n", f.Kind, f.ID, f.Status)
			}
			if r.MerkleRootMismatch {
				fmt.Printf("  item-stream merkle root mismatch\n")
			}
			for _, path := range r.ContentHashMismatches {
				fmt.Printf("  content hash mismatch: %s\n", path)
			}
		}
	}

	if !segRep.OK() {
		failed++
		fmt.Printf("segment scan: %d CRC error(s), %d id mismatch(es), %d decrypt failure(s), %d missing referent(s)\n",
			len(segRep.CRCErrors), len(segRep.IDMismatches), len(segRep.DecryptFailures), len(segRep.MissingReferents))
	}

	if failed == 0 {
		return nil
	}
	if !*repair {
		return fmt.Errorf("%d check(s) failed verification", failed)
	}

	repairRep, err := mv.Repair(manifest, results)
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}
	if err := manifest.Save(repo, repo.Keys()); err != nil {
		return fmt.Errorf("save repaired manifest: %w", err)
	}
	if err := repo.Commit(); err != nil {
		return fmt.Errorf("commit repaired repository: %w", err)
	}
	fmt.Printf("repair: removed %d archive(s), substituted %d chunk(s) with zero-filled replacements\n",
		len(repairRep.RemovedArchives), repairRep.SubstitutedChunks)
	for _, name := range repairRep.RemovedArchives {
		fmt.Printf("  removed archive %q (unrecoverable archive object)\n", name)
	}
	return nil
}

// runSegmentCheck calls Repository.Check in bounded batches when
// maxDuration > 0, stopping once the wall-clock deadline passes and
// aggregating the partial reports; with no deadline it runs a single
// unbounded Check starting at startSegment (normally 0, or a prior
// run's reported ResumeSegment when continuing a bounded scan).
func runSegmentCheck(repo *repository.Repository, verifyData bool, maxDuration time.Duration, startSegment uint64) (repository.CheckReport, error) {
	if maxDuration <= 0 {
		return repo.Check(verifyData, startSegment, 0)
	}

	const batchSegments = 64
	deadline := time.Now().Add(maxDuration)

	var agg repository.CheckReport
	start := startSegment
	for {
		rep, err := repo.Check(verifyData, start, batchSegments)
		if err != nil {
			return agg, err
		}
		agg.SegmentsScanned += rep.SegmentsScanned
		agg.ObjectsVerified += rep.ObjectsVerified
		agg.CRCErrors = append(agg.CRCErrors, rep.CRCErrors...)
		agg.IDMismatches = append(agg.IDMismatches, rep.IDMismatches...)
		agg.DecryptFailures = append(agg.DecryptFailures, rep.DecryptFailures...)
		agg.MissingReferents = append(agg.MissingReferents, rep.MissingReferents...)

		if rep.ResumeSegment == 0 {
			return agg, nil // scan reached the highest segment
		}
		if time.Now().After(deadline) {
			agg.ResumeSegment = rep.ResumeSegment
			return agg, nil
		}
		start = rep.ResumeSegment
	}
}

func printSegmentReport(rep repository.CheckReport) {
	fmt.Printf("segments: %d scanned, %d objects verified\n", rep.SegmentsScanned, rep.ObjectsVerified)
	if rep.ResumeSegment != 0 {
		fmt.Printf("segment scan bounded by --max-duration; resume with --start-segment=%d\n", rep.ResumeSegment)
	}
}

// compressionSpec is the parsed form of a --compression flag value.
type compressionSpec struct {
	tag            compressor.Tag
	autoInner      compressor.Tag
	obfuscateInner compressor.Tag
	obfuscateLevel int
}

// parseCompressionSpec parses one of: "none", "lz4", "zstd", "zlib",
// "lzma", "auto" (optionally "auto:INNER"), or "obfuscate:LEVEL"
// (optionally "obfuscate:LEVEL:INNER"). INNER defaults to lz4, LEVEL
// is a SPEC obfuscate level (1-6 relative, 110-123 absolute).
func parseCompressionSpec(s string) (compressionSpec, error) {
	parts := strings.Split(s, ":")
	name := parts[0]

	byName := map[string]compressor.Tag{
		"none": compressor.TagNone,
		"lz4":  compressor.TagLZ4,
		"zstd": compressor.TagZstd,
		"zlib": compressor.TagZlib,
		"lzma": compressor.TagLZMA,
	}

	spec := compressionSpec{autoInner: compressor.TagLZ4, obfuscateInner: compressor.TagLZ4, obfuscateLevel: 3}

	switch name {
	case "auto":
		spec.tag = compressor.TagAuto
		if len(parts) > 1 {
			inner, ok := byName[parts[1]]
			if !ok {
				return compressionSpec{}, fmt.Errorf("unknown auto inner codec %q", parts[1])
			}
			spec.autoInner = inner
		}
		return spec, nil
	case "obfuscate":
		spec.tag = compressor.TagObfuscateBase
		if len(parts) < 2 {
			return compressionSpec{}, fmt.Errorf("obfuscate requires a level: obfuscate:LEVEL[:inner]")
		}
		level, err := strconv.Atoi(parts[1])
		if err != nil {
			return compressionSpec{}, fmt.Errorf("invalid obfuscate level %q: %w", parts[1], err)
		}
		spec.obfuscateLevel = level
		if len(parts) > 2 {
			inner, ok := byName[parts[2]]
			if !ok {
				return compressionSpec{}, fmt.Errorf("unknown obfuscate inner codec %q", parts[2])
			}
			spec.obfuscateInner = inner
		}
		return spec, nil
	}

	tag, ok := byName[name]
	if !ok {
		return compressionSpec{}, fmt.Errorf("unknown compression %q (want none, lz4, zstd, zlib, lzma, auto, obfuscate:LEVEL)", s)
	}
	spec.tag = tag
	return spec, nil
}

func parseChunkerParams(s string) (chunker.Params, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return chunker.Params{}, fmt.Errorf("chunker params must be min,max,maskbits,window")
	}
	vals := make([]int, 4)
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return chunker.Params{}, fmt.Errorf("invalid chunker param %q: %w", f, err)
		}
		vals[i] = n
	}
	params := chunker.Params{Min: vals[0], Max: vals[1], MaskBits: vals[2], Window: vals[3]}
	if err := params.Validate(); err != nil {
		return chunker.Params{}, err
	}
	return params, nil
}

