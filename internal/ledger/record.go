// Package ledger is the incremental export decision engine. It tracks
// which files exist on disk per activity, derives deterministic
// filenames, decides what still needs downloading, and detects when
// previously downloaded metadata changed upstream.
package ledger

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/eliteGoblin/trackvault/internal/domain"
)

// activityMarker is the fixed second token of every generated
// filename, so pre-existing files can be recognized on re-scan.
const activityMarker = "activity"

const (
	startTimePrefixLayout = "2006-01-02-15-04-05"
	maxNameComponentRunes = 50
)

// ActivityRecord tracks which file kinds have been materialized on
// disk for one activity. A kind is in the set iff the ledger believes
// the corresponding file currently exists at its canonical path.
type ActivityRecord struct {
	ActivityID domain.ActivityID
	kinds      map[domain.FileKind]struct{}
}

// NewActivityRecord creates an empty record for an activity.
func NewActivityRecord(id domain.ActivityID) *ActivityRecord {
	return &ActivityRecord{
		ActivityID: id,
		kinds:      make(map[domain.FileKind]struct{}),
	}
}

// Has reports whether the kind is recorded as materialized.
func (r *ActivityRecord) Has(kind domain.FileKind) bool {
	_, ok := r.kinds[kind]
	return ok
}

// Add records a kind as materialized.
func (r *ActivityRecord) Add(kind domain.FileKind) {
	r.kinds[kind] = struct{}{}
}

// Clear empties the materialized set, marking every kind for
// redownload.
func (r *ActivityRecord) Clear() {
	r.kinds = make(map[domain.FileKind]struct{})
}

// Kinds returns the materialized kinds in token order.
func (r *ActivityRecord) Kinds() []domain.FileKind {
	kinds := make([]domain.FileKind, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Token() < kinds[j].Token() })
	return kinds
}

func (r *ActivityRecord) String() string {
	tokens := make([]string, 0, len(r.kinds))
	for _, k := range r.Kinds() {
		tokens = append(tokens, k.Token())
	}
	joined := strings.Join(tokens, ", ")
	if joined == "" {
		joined = "none"
	}
	return fmt.Sprintf("%d [%s]", r.ActivityID, joined)
}

// Filename formats the canonical filename for one of this record's
// materialized kinds. Formatting is defined as "name a file we have
// already committed to downloading": asking for an unrecorded kind or
// for a different activity is an invariant violation, not a use case.
func (r *ActivityRecord) Filename(act domain.Activity, kind domain.FileKind) (string, error) {
	if act.ID != r.ActivityID {
		return "", fmt.Errorf("%w: record tracks activity %d but got activity %d",
			domain.ErrInvariant, r.ActivityID, act.ID)
	}
	if !r.Has(kind) {
		return "", fmt.Errorf("%w: kind %s not downloaded yet for activity %d",
			domain.ErrInvariant, kind.Token(), r.ActivityID)
	}

	return fmt.Sprintf("%s_%s_%d_%s_%s.%s",
		act.StartTimeGMT.UTC().Format(startTimePrefixLayout),
		activityMarker,
		act.ID,
		act.Type,
		sanitizeNameComponent(act.Name),
		kind.Suffix(),
	), nil
}

// RecordFromPath rebuilds a record from an existing file path. The
// resulting record knows about exactly one kind; merging kinds for the
// same activity is the caller's job.
func RecordFromPath(filePath string, kind domain.FileKind) (*ActivityRecord, error) {
	base := filepath.Base(filePath)

	if ext := filepath.Ext(base); ext != "."+kind.Suffix() {
		return nil, fmt.Errorf("%w: suffix %q of %q does not match kind %s",
			domain.ErrFormat, ext, base, kind.Token())
	}

	parts := strings.Split(base, "_")
	if len(parts) < 3 || parts[1] != activityMarker {
		return nil, fmt.Errorf("%w: no activity marker in %q", domain.ErrFormat, base)
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: activity ID %q in %q is not numeric",
			domain.ErrFormat, parts[2], base)
	}

	rec := NewActivityRecord(domain.ActivityID(id))
	rec.Add(kind)
	return rec, nil
}

// sanitizeNameComponent makes an activity name filesystem safe: path
// separators become underscores, everything except letters, digits,
// spaces, hyphens and underscores is stripped, surrounding whitespace
// is trimmed, spaces become underscores, and the result is capped at
// 50 runes. An empty result becomes "unnamed".
func sanitizeNameComponent(name string) string {
	replaced := strings.NewReplacer("/", "_", `\`, "_").Replace(name)

	var b strings.Builder
	for _, r := range replaced {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	s := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	if runes := []rune(s); len(runes) > maxNameComponentRunes {
		s = string(runes[:maxNameComponentRunes])
	}
	if s == "" {
		return "unnamed"
	}
	return s
}
