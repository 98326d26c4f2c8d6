// Package fixtures provides test doubles shared by the integration
// suite.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eliteGoblin/trackvault/internal/domain"
)

// FakeSource implements domain.ActivitySource over a fixed in-memory
// feed, newest first, and counts upstream calls.
type FakeSource struct {
	Feed []domain.Activity

	PageCalls  int
	TrackCalls int

	PageErr     error
	EmptyTracks bool
}

func (s *FakeSource) FetchPage(_ context.Context, offset, limit int) ([]domain.Activity, error) {
	s.PageCalls++
	if s.PageErr != nil {
		return nil, s.PageErr
	}
	if offset >= len(s.Feed) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.Feed) {
		end = len(s.Feed)
	}
	return s.Feed[offset:end], nil
}

func (s *FakeSource) FetchTrackBytes(_ context.Context, id domain.ActivityID, format string) ([]byte, error) {
	s.TrackCalls++
	if s.EmptyTracks {
		return nil, nil
	}
	return []byte(fmt.Sprintf("track %d %s", id, format)), nil
}

// NewActivity builds a feed activity with a raw payload consistent
// with its parsed fields.
func NewActivity(id domain.ActivityID, name, typeKey string, start time.Time, polyline bool) domain.Activity {
	raw, _ := json.Marshal(map[string]any{
		"activityId":   id,
		"activityName": name,
		"activityType": map[string]string{"typeKey": typeKey},
		"startTimeGMT": start.UTC().Format("2006-01-02 15:04:05"),
		"hasPolyline":  polyline,
	})
	return domain.Activity{
		Raw:          raw,
		ID:           id,
		Name:         name,
		Type:         typeKey,
		StartTimeGMT: start.UTC(),
		HasPolyline:  polyline,
	}
}

var _ domain.ActivitySource = (*FakeSource)(nil)
