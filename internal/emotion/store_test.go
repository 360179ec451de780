package emotion

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_QueryByApplication_KeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Store(Record{AppID: "code", Timestamp: now, Emotion: "Joy", Score: 0.1})
	s.Store(Record{AppID: "slack", Timestamp: now, Emotion: "Anger", Score: 0.2})
	s.Store(Record{AppID: "code", Timestamp: now, Emotion: "Calmness", Score: 0.3})
	s.Store(Record{AppID: "code", Timestamp: now, Emotion: "Joy", Score: 0.4})

	got := s.QueryByApplication("code")
	require.Len(t, got, 3)
	assert.Equal(t, 0.1, got[0].Score)
	assert.Equal(t, 0.3, got[1].Score)
	assert.Equal(t, 0.4, got[2].Score)
	for _, r := range got {
		assert.Equal(t, "code", r.AppID)
	}

	assert.Len(t, s.QueryByApplication("slack"), 1)
}

func TestStore_QueryUnknownApp_ReturnsEmpty(t *testing.T) {
	s := NewStore()
	s.Store(Record{AppID: "code", Emotion: "Joy"})

	got := s.QueryByApplication("browser")
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Store(Record{AppID: "code", Emotion: "Joy"})
	s.Store(Record{AppID: "slack", Emotion: "Joy"})

	s.Clear()

	assert.Empty(t, s.QueryByApplication("code"))
	assert.Empty(t, s.QueryByApplication("slack"))
	assert.Empty(t, s.All())
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentStore(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Store(Record{AppID: "code", Emotion: "Joy"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, s.Len())
}

func TestSummarize_RanksByCountThenLabel(t *testing.T) {
	records := []Record{
		{AppID: "code", Emotion: "Joy", Score: 0.2},
		{AppID: "code", Emotion: "Joy", Score: 0.4},
		{AppID: "code", Emotion: "Boredom", Score: 0.5},
		{AppID: "code", Emotion: "Anger", Score: 0.1},
		{AppID: "code", Emotion: "Calmness", Score: 0.9},
		{AppID: "browser", Emotion: "Interest", Score: 0.7},
	}

	summary := Summarize(records, 2)

	require.Len(t, summary.Apps, 2)
	assert.Equal(t, "browser", summary.Apps[0].AppID)

	code := summary.Apps[1]
	assert.Equal(t, "code", code.AppID)
	assert.Equal(t, 5, code.Records)
	require.Len(t, code.TopEmotions, 2)
	assert.Equal(t, "Joy", code.TopEmotions[0].Emotion)
	assert.Equal(t, 2, code.TopEmotions[0].Count)
	assert.InDelta(t, 0.3, code.TopEmotions[0].MeanScore, 1e-9)
	assert.Equal(t, "Anger", code.TopEmotions[1].Emotion)
}

func TestSummaryFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")
	summary := Summarize([]Record{{AppID: "code", Emotion: "Joy", Score: 0.5}}, 0)

	require.NoError(t, WriteSummaryFile(path, summary))

	got, err := ReadSummaryFile(path)
	require.NoError(t, err)
	require.Len(t, got.Apps, 1)
	assert.Equal(t, "code", got.Apps[0].AppID)
	assert.Equal(t, "Joy", got.Apps[0].TopEmotions[0].Emotion)
}

func TestStore_DrainAndRestore(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Store(Record{AppID: "a", Timestamp: now, Emotion: "Joy", Score: 0.1})
	s.Store(Record{AppID: "a", Timestamp: now, Emotion: "Awe", Score: 0.2})

	drained := s.Drain()
	require.Len(t, drained, 2)
	assert.Zero(t, s.Len())
	assert.NotNil(t, s.Drain())

	s.Store(Record{AppID: "b", Timestamp: now, Emotion: "Anger", Score: 0.3})
	s.Restore(drained)

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, "Joy", all[0].Emotion)
	assert.Equal(t, "Anger", all[2].Emotion)
}
