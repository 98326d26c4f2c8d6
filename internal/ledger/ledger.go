package ledger

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/eliteGoblin/trackvault/internal/domain"
)

// FilterPolicy controls which (activity, kind) pairs get exported.
// Metadata can never be excluded by kind; config validation enforces
// that before a policy reaches the ledger.
type FilterPolicy struct {
	ExcludedActivityIDs   map[domain.ActivityID]struct{}
	ExcludedActivityTypes map[string]struct{}
	ExcludedFileKinds     map[domain.FileKind]struct{}

	// StartDate and EndDate are inclusive bounds on the activity start
	// time. Nil means unbounded.
	StartDate *time.Time
	EndDate   *time.Time

	// MinimumActivityAge skips activities younger than this relative to
	// wall-clock now. Zero disables the gate.
	MinimumActivityAge time.Duration
}

// Ledger owns the activityId -> record table and makes every
// download/skip decision. It is not safe for concurrent use; the
// coordinator guarantees single-pass access.
type Ledger struct {
	policy  FilterPolicy
	root    string
	fs      afero.Fs
	clock   clockwork.Clock
	records map[domain.ActivityID]*ActivityRecord
}

// New creates an empty ledger over the given download root.
func New(policy FilterPolicy, downloadRoot string, fs afero.Fs, clock clockwork.Clock) *Ledger {
	return &Ledger{
		policy:  policy,
		root:    downloadRoot,
		fs:      fs,
		clock:   clock,
		records: make(map[domain.ActivityID]*ActivityRecord),
	}
}

var ignoredFilenames = map[string]struct{}{
	".DS_Store":  {},
	"Thumbs.db":  {},
	".gitkeep":   {},
	".gitignore": {},
}

var ignoredExtensions = map[string]struct{}{
	".tmp":  {},
	".temp": {},
	".swp":  {},
	".bak":  {},
}

// IgnorePath reports whether a pre-existing filesystem entry is known
// junk (platform metadata, VCS placeholders, editor temp/backup files)
// and should be skipped during reconciliation. It is never used as a
// download filter.
func (l *Ledger) IgnorePath(path string) bool {
	base := filepath.Base(path)
	if _, ok := ignoredFilenames[base]; ok {
		return true
	}
	if _, ok := ignoredExtensions[strings.ToLower(filepath.Ext(base))]; ok {
		return true
	}
	return false
}

// ObserveExistingFile merges one pre-existing file into the ledger.
// The parent directory name must be a kind token and the filename must
// decode; anything on the junk list is skipped silently.
func (l *Ledger) ObserveExistingFile(path string) error {
	if l.IgnorePath(path) {
		return nil
	}

	kind, err := domain.ParseFileKind(filepath.Base(filepath.Dir(path)))
	if err != nil {
		return fmt.Errorf("file %s: %w", path, err)
	}

	rec, err := RecordFromPath(path, kind)
	if err != nil {
		return err
	}

	if existing, ok := l.records[rec.ActivityID]; ok {
		existing.Add(kind)
		return nil
	}
	l.records[rec.ActivityID] = rec
	return nil
}

// Decide is the central policy gate. It returns the canonical
// destination path when the file should be downloaded, or "" when it
// should be skipped - the skip is the expected, error-free negative
// outcome, with the reason logged. A returned path is a reservation:
// the kind is marked materialized before the byte write happens, and
// the startup re-scan is the recovery mechanism if the write never
// lands.
func (l *Ledger) Decide(logger *zap.Logger, act domain.Activity, kind domain.FileKind) (string, error) {
	logger = logger.With(zap.String("file_kind", kind.Token()))

	if rec, ok := l.records[act.ID]; ok && rec.Has(kind) {
		logger.Debug("skipping already downloaded activity")
		return "", nil
	}
	if _, excluded := l.policy.ExcludedActivityIDs[act.ID]; excluded {
		logger.Debug("skipping excluded activity by ID")
		return "", nil
	}
	if _, excluded := l.policy.ExcludedActivityTypes[act.Type]; excluded {
		logger.Debug("skipping excluded activity by type")
		return "", nil
	}
	if _, excluded := l.policy.ExcludedFileKinds[kind]; excluded {
		logger.Debug("skipping excluded file kind")
		return "", nil
	}
	if l.policy.StartDate != nil && act.StartTimeGMT.Before(*l.policy.StartDate) {
		logger.Debug("skipping activity before start date")
		return "", nil
	}
	if l.policy.EndDate != nil && act.StartTimeGMT.After(*l.policy.EndDate) {
		logger.Debug("skipping activity after end date")
		return "", nil
	}
	if l.policy.MinimumActivityAge > 0 {
		cutoff := l.clock.Now().UTC().Add(-l.policy.MinimumActivityAge)
		if act.StartTimeGMT.After(cutoff) {
			logger.Debug("skipping activity newer than minimum age")
			return "", nil
		}
	}
	// GPX and TCX are gated on the polyline flag; KML and CSV are not,
	// matching upstream export behavior.
	if kind.RequiresPolyline() && !act.HasPolyline {
		logger.Debug("skipping GPS file kind without polyline data")
		return "", nil
	}

	rec, ok := l.records[act.ID]
	if !ok {
		rec = NewActivityRecord(act.ID)
		l.records[act.ID] = rec
	}
	rec.Add(kind)

	return l.path(act, kind)
}

// MarkRedownloadable deletes every file recorded for the activity and
// clears its materialized set so the next Decide downloads everything
// again. A recorded file already missing from disk is skipped, not an
// error.
func (l *Ledger) MarkRedownloadable(logger *zap.Logger, act domain.Activity) error {
	rec, ok := l.records[act.ID]
	if !ok {
		return fmt.Errorf("%w: cannot mark activity %d as redownloadable",
			domain.ErrNotTracked, act.ID)
	}

	for _, kind := range rec.Kinds() {
		path, err := l.path(act, kind)
		if err != nil {
			return err
		}
		exists, err := afero.Exists(l.fs, path)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := l.fs.Remove(path); err != nil {
			return err
		}
		logger.Debug("deleted existing file", zap.String("path", path))
	}

	rec.Clear()
	return nil
}

// DetectUpstreamChange compares the stored metadata bytes against the
// canonical serialization of the activity's current payload. Any
// difference marks the whole activity redownloadable, all kinds
// included, and logs a human-readable diff. A missing metadata file
// counts as a change. No-op unless the activity is tracked with
// metadata materialized. Returns whether the activity was marked.
func (l *Ledger) DetectUpstreamChange(logger *zap.Logger, act domain.Activity) (bool, error) {
	rec, ok := l.records[act.ID]
	if !ok || !rec.Has(domain.KindMetadata) {
		return false, nil
	}

	path, err := l.path(act, domain.KindMetadata)
	if err != nil {
		return false, err
	}

	exists, err := afero.Exists(l.fs, path)
	if err != nil {
		return false, err
	}
	if !exists {
		logger.Warn("existing metadata file not found, marking for redownload",
			zap.String("path", path))
		if err := l.MarkRedownloadable(logger, act); err != nil {
			return false, err
		}
		return true, nil
	}

	existing, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return false, err
	}
	current, err := act.Dump()
	if err != nil {
		return false, err
	}
	if bytes.Equal(current, existing) {
		return false, nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(existing), string(current), true)
	logger.Warn("activity data has changed, marking for redownload",
		zap.String("diff", dmp.DiffPrettyText(dmp.DiffCleanupSemantic(diffs))))

	if err := l.MarkRedownloadable(logger, act); err != nil {
		return false, err
	}
	return true, nil
}

// Tracked reports whether the ledger has a record for the activity.
func (l *Ledger) Tracked(id domain.ActivityID) bool {
	_, ok := l.records[id]
	return ok
}

// Size returns the number of tracked activities.
func (l *Ledger) Size() int {
	return len(l.records)
}

// String lists tracked records newest first, for startup logging.
func (l *Ledger) String() string {
	recs := make([]*ActivityRecord, 0, len(l.records))
	for _, rec := range l.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ActivityID > recs[j].ActivityID })

	parts := make([]string, len(recs))
	for i, rec := range recs {
		parts[i] = rec.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// path returns the canonical destination for a recorded (activity,
// kind) pair: {root}/{kindToken}/{filename}.
func (l *Ledger) path(act domain.Activity, kind domain.FileKind) (string, error) {
	rec, ok := l.records[act.ID]
	if !ok {
		return "", fmt.Errorf("%w: activity %d", domain.ErrNotTracked, act.ID)
	}
	name, err := rec.Filename(act, kind)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, kind.Token(), name), nil
}
