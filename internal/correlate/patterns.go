package correlate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
)

const (
	dateTagPrefix  = "date:"
	eventTagPrefix = "event:"
)

// assembleTimeline turns TIMELINE_EVENT findings into a chronological
// case timeline. The timestamp comes from a "date:" tag when the
// analysis phase supplied one, otherwise from the first date stated in
// the finding text. Events with no resolvable date are skipped: an
// undatable occurrence cannot be ordered.
func (e *Engine) assembleTimeline(caseID string, findings []*domain.Finding) []*domain.TimelineEvent {
	var events []*domain.TimelineEvent
	skipped := 0

	for _, f := range findings {
		if f.FindingType != domain.FindingTimelineEvent {
			continue
		}
		ts, ok := eventTimestamp(f)
		if !ok {
			skipped++
			continue
		}
		events = append(events, &domain.TimelineEvent{
			ID:              domain.HashID(caseID, f.ID, "timeline"),
			CaseID:          caseID,
			Timestamp:       ts,
			EventType:       eventType(f),
			Description:     strings.TrimSpace(f.Text),
			Participants:    append([]string(nil), f.Entities...),
			SourceCitations: citationIDs(f),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})

	if skipped > 0 {
		e.logger.Debug("timeline events skipped, no resolvable date", "skipped", skipped)
	}
	return events
}

// eventTimestamp resolves an event finding's date: tagged date first,
// then the earliest date mentioned in the text.
func eventTimestamp(f *domain.Finding) (time.Time, bool) {
	for _, tag := range f.Tags {
		if !strings.HasPrefix(tag, dateTagPrefix) {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(tag, dateTagPrefix))
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, true
			}
		}
	}
	return FirstDate(f.Text)
}

// FirstDate returns the earliest calendar date stated in text. Analysis
// uses it to tag timeline findings so assembly does not re-parse them.
func FirstDate(text string) (time.Time, bool) {
	dates := extractDates(text)
	if len(dates) == 0 {
		return time.Time{}, false
	}
	keys := make([]string, 0, len(dates))
	for d := range dates {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	ts, err := time.Parse("2006-01-02", keys[0])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func eventType(f *domain.Finding) string {
	for _, tag := range f.Tags {
		if strings.HasPrefix(tag, eventTagPrefix) {
			if t := strings.TrimSpace(strings.TrimPrefix(tag, eventTagPrefix)); t != "" {
				return t
			}
		}
	}
	return "event"
}

func citationIDs(f *domain.Finding) []string {
	ids := make([]string, 0, len(f.Citations))
	for _, c := range f.Citations {
		ids = append(ids, c.ID)
	}
	return ids
}

// detectPatterns finds recurring structure across the case's findings:
// finding types that repeat, bursts of timeline events inside the
// temporal window, and participants shared across findings.
func (e *Engine) detectPatterns(caseID string, findings []*domain.Finding, timeline []*domain.TimelineEvent) []*domain.Pattern {
	var patterns []*domain.Pattern
	patterns = append(patterns, e.repeatedTypePatterns(caseID, findings)...)
	patterns = append(patterns, e.temporalClusterPatterns(caseID, findings, timeline)...)
	patterns = append(patterns, e.sharedParticipantPatterns(caseID, findings)...)
	return patterns
}

func (e *Engine) repeatedTypePatterns(caseID string, findings []*domain.Finding) []*domain.Pattern {
	byType := make(map[domain.FindingType][]string)
	for _, f := range findings {
		byType[f.FindingType] = append(byType[f.FindingType], f.ID)
	}

	types := make([]domain.FindingType, 0, len(byType))
	for ft := range byType {
		if len(byType[ft]) >= e.minPatternCount {
			types = append(types, ft)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	patterns := make([]*domain.Pattern, 0, len(types))
	for _, ft := range types {
		ids := byType[ft]
		sort.Strings(ids)
		name := strings.ToLower(string(ft))
		patterns = append(patterns, &domain.Pattern{
			ID:          domain.HashID(caseID, "pattern", "repeated", name),
			CaseID:      caseID,
			PatternType: "repeated_" + name,
			Description: fmt.Sprintf("%d findings of type %s", len(ids), ft),
			FindingIDs:  ids,
			Count:       len(ids),
		})
	}
	return patterns
}

// temporalClusterPatterns greedily groups consecutive timeline events
// whose timestamps fall within the temporal window of the cluster's
// first event. The timeline is already sorted ascending.
func (e *Engine) temporalClusterPatterns(caseID string, findings []*domain.Finding, timeline []*domain.TimelineEvent) []*domain.Pattern {
	if len(timeline) < 2 {
		return nil
	}

	// Timeline event IDs are derived from finding IDs, so the mapping
	// back is recomputable without carrying it on the event.
	findingByEvent := make(map[string]string)
	for _, f := range findings {
		if f.FindingType == domain.FindingTimelineEvent {
			findingByEvent[domain.HashID(caseID, f.ID, "timeline")] = f.ID
		}
	}

	var patterns []*domain.Pattern
	for start := 0; start < len(timeline); {
		end := start + 1
		for end < len(timeline) && timeline[end].Timestamp.Sub(timeline[start].Timestamp) <= e.temporalWindow {
			end++
		}
		if end-start >= 2 {
			cluster := timeline[start:end]
			ids := make([]string, 0, len(cluster))
			for _, ev := range cluster {
				if fid, ok := findingByEvent[ev.ID]; ok {
					ids = append(ids, fid)
				}
			}
			sort.Strings(ids)
			first := cluster[0].Timestamp
			patterns = append(patterns, &domain.Pattern{
				ID:          domain.HashID(caseID, "pattern", "temporal", first.UTC().Format(time.RFC3339)),
				CaseID:      caseID,
				PatternType: "temporal_cluster",
				Description: fmt.Sprintf("%d events within %s of %s", len(cluster), e.temporalWindow, first.UTC().Format("2006-01-02")),
				FindingIDs:  ids,
				Count:       len(cluster),
			})
		}
		start = end
	}
	return patterns
}

func (e *Engine) sharedParticipantPatterns(caseID string, findings []*domain.Finding) []*domain.Pattern {
	byEntity := make(map[string][]string)
	display := make(map[string]string)
	for _, f := range findings {
		seen := make(map[string]bool, len(f.Entities))
		for _, mention := range f.Entities {
			key := e.resolveAlias(mention)
			if seen[key] {
				continue
			}
			seen[key] = true
			byEntity[key] = append(byEntity[key], f.ID)
			if cur, ok := display[key]; !ok || len(mention) > len(cur) {
				display[key] = mention
			}
		}
	}

	keys := make([]string, 0, len(byEntity))
	for k := range byEntity {
		if len(byEntity[k]) >= e.minPatternCount {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	patterns := make([]*domain.Pattern, 0, len(keys))
	for _, k := range keys {
		ids := byEntity[k]
		sort.Strings(ids)
		patterns = append(patterns, &domain.Pattern{
			ID:          domain.HashID(caseID, "pattern", "participant", k),
			CaseID:      caseID,
			PatternType: "shared_participant",
			Description: fmt.Sprintf("%s appears in %d findings", display[k], len(ids)),
			FindingIDs:  ids,
			Count:       len(ids),
		})
	}
	return patterns
}
