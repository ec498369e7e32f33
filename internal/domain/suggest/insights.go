package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/activity"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
)

// How much of the activity stream goes into a prompt.
const (
	SummaryActivity = 8
	AskActivity     = 16
)

// KPIs are the workspace figures shown on the dashboard.
type KPIs struct {
	TotalCodes  int `json:"totalCodes"`
	Mapped      int `json:"mapped"`
	CoveragePct int `json:"coverage"`
	TM2Codes    int `json:"tm2Codes"`
	BiomedCodes int `json:"biomedCodes"`
}

// Snapshot is the workspace state an insights prompt is built from. Activity
// is newest first.
type Snapshot struct {
	KPIs     KPIs             `json:"kpi"`
	Activity []activity.Event `json:"sampleActivity"`
}

// NewSnapshot derives KPIs from catalog statistics.
func NewSnapshot(st *catalog.Stats, events []activity.Event) Snapshot {
	var k KPIs
	if st != nil {
		k.TotalCodes = st.Total
		k.Mapped = st.Mapped
		for system, n := range st.BySystem {
			switch {
			case system == catalog.SystemTM2:
				k.TM2Codes += n
			case strings.HasPrefix(system, catalog.SystemBiomed):
				k.BiomedCodes += n
			}
		}
	}
	total := k.TotalCodes
	if total < 1 {
		total = 1
	}
	k.CoveragePct = int(math.Round(float64(k.Mapped) * 100 / float64(total)))
	return Snapshot{KPIs: k, Activity: events}
}

func firstEvents(events []activity.Event, n int) []activity.Event {
	if len(events) > n {
		return events[:n]
	}
	return events
}

func insightsPrompt(s Snapshot) string {
	recent := firstEvents(s.Activity, SummaryActivity)
	lines := make([]string, 0, len(recent))
	for _, ev := range recent {
		lines = append(lines, fmt.Sprintf("- %s · %s · %s", ev.Timestamp, ev.Action, ev.Details))
	}
	activityText := strings.Join(lines, "\n")
	if activityText == "" {
		activityText = "(no recent activity)"
	}
	return fmt.Sprintf(`You are a health terminology assistant. Briefly summarize the current system health and any notable trends.
KPIs:
- Total codes: %d
- Mapped: %d
- Coverage: %d%%
- TM2 codes: %d
- Biomed codes: %d

Recent activity (most recent first):
%s

In 5-7 concise bullet points: call out risks, progress, anomalies, and next best actions. Keep it crisp.`,
		s.KPIs.TotalCodes, s.KPIs.Mapped, s.KPIs.CoveragePct, s.KPIs.TM2Codes, s.KPIs.BiomedCodes, activityText)
}

func kpiAskPrompt(s Snapshot, question string) (string, error) {
	s.Activity = firstEvents(s.Activity, AskActivity)
	if s.Activity == nil {
		s.Activity = []activity.Event{}
	}
	ctxJSON, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode workspace snapshot: %w", err)
	}
	return fmt.Sprintf(`You help analyze a terminology mapping system. Question: %s

Context JSON (summarize and reason with it; do not reprint it):
%s

Answer clearly in short paragraphs or bullets. If math is used, show the steps briefly.`, question, ctxJSON), nil
}

// Insights summarizes workspace health from snap. With a non-blank question
// it answers that question against the same figures instead.
func (a *Adapter) Insights(ctx context.Context, snap Snapshot, question string) (string, error) {
	if a.completer == nil {
		return "", ErrUnavailable
	}
	prompt := insightsPrompt(snap)
	if q := strings.TrimSpace(question); q != "" {
		var err error
		if prompt, err = kpiAskPrompt(snap, q); err != nil {
			return "", err
		}
	}
	out, err := a.completer.Text(ctx, prompt)
	if err != nil {
		a.logger.Warn().Err(err).Msg("insights call failed")
		return "", &ServiceError{Op: "insights", Err: err}
	}
	return strings.TrimSpace(out), nil
}
