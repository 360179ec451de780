package emotion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const DefaultTopN = 3

// EmotionCount aggregates the occurrences of one emotion label.
type EmotionCount struct {
	Emotion   string  `json:"emotion"`
	Count     int     `json:"count"`
	MeanScore float64 `json:"mean_score"`
}

type AppSummary struct {
	AppID       string         `json:"app_id"`
	Records     int            `json:"records"`
	TopEmotions []EmotionCount `json:"top_emotions"`
}

type Summary struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Apps        []AppSummary `json:"apps"`
}

// Summarize ranks the n most frequent emotions per application.
// Ties are broken by label so output is stable. Apps are sorted by id.
func Summarize(records []Record, n int) Summary {
	if n <= 0 {
		n = DefaultTopN
	}

	type acc struct {
		count int
		total float64
	}
	perApp := make(map[string]map[string]*acc)
	recordsPerApp := make(map[string]int)
	for _, r := range records {
		emotions, ok := perApp[r.AppID]
		if !ok {
			emotions = make(map[string]*acc)
			perApp[r.AppID] = emotions
		}
		a, ok := emotions[r.Emotion]
		if !ok {
			a = &acc{}
			emotions[r.Emotion] = a
		}
		a.count++
		a.total += r.Score
		recordsPerApp[r.AppID]++
	}

	apps := make([]AppSummary, 0, len(perApp))
	for appID, emotions := range perApp {
		counts := make([]EmotionCount, 0, len(emotions))
		for label, a := range emotions {
			counts = append(counts, EmotionCount{
				Emotion:   label,
				Count:     a.count,
				MeanScore: a.total / float64(a.count),
			})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Count != counts[j].Count {
				return counts[i].Count > counts[j].Count
			}
			return counts[i].Emotion < counts[j].Emotion
		})
		if len(counts) > n {
			counts = counts[:n]
		}
		apps = append(apps, AppSummary{
			AppID:       appID,
			Records:     recordsPerApp[appID],
			TopEmotions: counts,
		})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].AppID < apps[j].AppID })

	return Summary{
		GeneratedAt: time.Now().UTC(),
		Apps:        apps,
	}
}

// WriteSummaryFile writes the summary as indented JSON through a temp file and rename.
func WriteSummaryFile(path string, summary Summary) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create summary directory: %w", err)
		}
	}

	content, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func ReadSummaryFile(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return Summary{}, fmt.Errorf("invalid summary file: %w", err)
	}
	return summary, nil
}
