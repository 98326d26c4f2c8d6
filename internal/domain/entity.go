// Package domain contains core business entities and collaborator
// interfaces. This is the innermost layer - no knowledge of Garmin
// HTTP details, the on-disk layout, or scheduling.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ActivityID identifies one activity in the upstream account. IDs are
// positive and assigned roughly descending-equals-newer, which is what
// makes the boundary watermark work.
type ActivityID int64

// Activity is an immutable snapshot of one upstream activity. Raw
// holds the untouched API payload; it is the basis for byte-exact
// change detection and what gets persisted as the metadata file. The
// remaining fields are parsed out of Raw. Activities compare by ID
// only.
type Activity struct {
	Raw json.RawMessage

	ID           ActivityID
	Name         string
	Type         string
	StartTimeGMT time.Time
	HasPolyline  bool
}

func (a Activity) String() string {
	return fmt.Sprintf("Activity %d", a.ID)
}

// Dump returns the canonical serialization of the raw payload: JSON
// with sorted keys and two-space indentation. Writes and comparisons
// both go through Dump, so upstream field reordering can never produce
// a false change-detection positive.
func (a Activity) Dump() ([]byte, error) {
	var v any
	if err := json.Unmarshal(a.Raw, &v); err != nil {
		return nil, fmt.Errorf("activity %d: malformed raw payload: %w", a.ID, err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("activity %d: %w", a.ID, err)
	}
	return out, nil
}

// LogWith returns a child logger carrying this activity's context.
func (a Activity) LogWith(logger *zap.Logger) *zap.Logger {
	return logger.With(
		zap.Int64("activity_id", int64(a.ID)),
		zap.String("activity_type", a.Type),
		zap.String("activity_name", a.Name),
		zap.Time("activity_start_time_gmt", a.StartTimeGMT),
		zap.Bool("activity_has_polyline", a.HasPolyline),
	)
}

// apiActivity is the subset of the activity-list payload parsed
// eagerly. Everything else stays opaque inside Raw.
type apiActivity struct {
	ActivityID   *int64 `json:"activityId"`
	ActivityName string `json:"activityName"`
	ActivityType struct {
		TypeKey string `json:"typeKey"`
	} `json:"activityType"`
	StartTimeGMT string `json:"startTimeGMT"`
	HasPolyline  bool   `json:"hasPolyline"`
}

// startTimeLayout is the wire format of startTimeGMT, always UTC.
const startTimeLayout = "2006-01-02 15:04:05"

// ActivityFromAPI parses one element of an activity-list response.
func ActivityFromAPI(raw json.RawMessage) (Activity, error) {
	var p apiActivity
	if err := json.Unmarshal(raw, &p); err != nil {
		return Activity{}, fmt.Errorf("malformed activity payload: %w", err)
	}
	if p.ActivityID == nil || *p.ActivityID <= 0 {
		return Activity{}, fmt.Errorf("activity payload has no usable activityId")
	}
	if p.StartTimeGMT == "" {
		return Activity{}, fmt.Errorf("activity %d has no startTimeGMT", *p.ActivityID)
	}
	start, err := time.ParseInLocation(startTimeLayout, p.StartTimeGMT, time.UTC)
	if err != nil {
		return Activity{}, fmt.Errorf("activity %d: bad startTimeGMT %q: %w",
			*p.ActivityID, p.StartTimeGMT, err)
	}
	return Activity{
		Raw:          raw,
		ID:           ActivityID(*p.ActivityID),
		Name:         p.ActivityName,
		Type:         p.ActivityType.TypeKey,
		StartTimeGMT: start,
		HasPolyline:  p.HasPolyline,
	}, nil
}
