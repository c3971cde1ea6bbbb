package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaumer/clipq/internal/jobs"
	"github.com/mbaumer/clipq/internal/remote"
	"github.com/mbaumer/clipq/pkg/models"
)

func demoJobs() []models.Job {
	return []models.Job{
		{ID: "j1", Status: models.StatusProcessing, ProgressPct: 40, Title: "conference talk"},
		{ID: "j2", Status: models.StatusCompleted, Title: "holiday clip", IsFlagged: true},
		{ID: "j3", Status: models.StatusPaused, Title: "screen recording"},
	}
}

func newTestModel(t *testing.T, dir *remote.MockDirectory) (Model, *jobs.Tracker) {
	t.Helper()
	if dir.ListFunc == nil {
		dir.ListFunc = func(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *remote.Failure) {
			return demoJobs(), nil
		}
	}
	tracker := jobs.NewTracker(dir)
	require.Nil(t, tracker.Refresh(context.Background(), 50, ""))
	return New(tracker, 50), tracker
}

func press(t *testing.T, m Model, key string) Model {
	t.Helper()
	var msg tea.Msg
	switch key {
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	updated, _ := m.Update(msg)
	return updated.(Model)
}

// pressAndRun presses a key and, if the update produced a command, executes
// it and feeds the resulting message back, the way the bubbletea runtime
// would.
func pressAndRun(t *testing.T, m Model, key string) Model {
	t.Helper()
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	model := updated.(Model)
	if cmd == nil {
		return model
	}
	after, _ := model.Update(cmd())
	return after.(Model)
}

func TestView_ListsJobs(t *testing.T) {
	m, _ := newTestModel(t, &remote.MockDirectory{})
	m = m.resync()

	out := m.View()
	assert.Contains(t, out, "conference talk")
	assert.Contains(t, out, "holiday clip")
	assert.Contains(t, out, "screen recording")
	assert.Contains(t, out, "40%")
	assert.Contains(t, out, "⚑")
}

func TestCursor_MovesAndClamps(t *testing.T) {
	m, _ := newTestModel(t, &remote.MockDirectory{})
	m = m.resync()

	assert.Equal(t, 0, m.cursor)
	m = press(t, m, "k")
	assert.Equal(t, 0, m.cursor, "up from the first row stays put")

	m = press(t, m, "j")
	m = press(t, m, "j")
	assert.Equal(t, 2, m.cursor)
	m = press(t, m, "j")
	assert.Equal(t, 2, m.cursor, "down from the last row stays put")
}

func TestQuitKeys(t *testing.T) {
	m, _ := newTestModel(t, &remote.MockDirectory{})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestFilter_LiveNarrowingAndEscape(t *testing.T) {
	m, tracker := newTestModel(t, &remote.MockDirectory{})
	m = m.resync()

	m = press(t, m, "/")
	assert.Equal(t, modeFilter, m.mode)

	m = press(t, m, "h")
	m = press(t, m, "o")
	m = press(t, m, "l")
	require.Len(t, m.snap.Filtered, 1, "filter narrows as each rune arrives")
	assert.Equal(t, "j2", m.snap.Filtered[0].ID)
	assert.Equal(t, "hol", tracker.Snapshot().Query)

	m = press(t, m, "enter")
	assert.Equal(t, modeBrowse, m.mode)
	assert.Len(t, m.snap.Filtered, 1, "confirmed filter stays applied")

	m = press(t, m, "/")
	m = press(t, m, "esc")
	assert.Equal(t, modeBrowse, m.mode)
	assert.Len(t, m.snap.Filtered, 3, "escape clears the filter")
	assert.Empty(t, tracker.Snapshot().Query)
}

func TestFilter_CursorClampedToNarrowedList(t *testing.T) {
	m, _ := newTestModel(t, &remote.MockDirectory{})
	m = m.resync()
	m = press(t, m, "j")
	m = press(t, m, "j")
	require.Equal(t, 2, m.cursor)

	m = press(t, m, "/")
	m = press(t, m, "h")
	m = press(t, m, "o")
	m = press(t, m, "l")
	assert.Equal(t, 0, m.cursor)
}

func TestDelete_RemovesRowAndShowsNotice(t *testing.T) {
	dir := &remote.MockDirectory{}
	calls := 0
	dir.ListFunc = func(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *remote.Failure) {
		calls++
		return demoJobs(), nil
	}
	dir.DeleteFunc = func(ctx context.Context, jobID string) *remote.Failure { return nil }
	m, _ := newTestModel(t, dir)
	m = m.resync()

	// Cursor on j1.
	m = pressAndRun(t, m, "d")

	assert.Len(t, m.snap.Filtered, 2)
	for _, job := range m.snap.Filtered {
		assert.NotEqual(t, "j1", job.ID)
	}
	assert.Equal(t, "Job deleted", m.statusLine)
	assert.False(t, m.statusIsErr)
}

func TestDelete_ConflictShowsSubstitutedCopy(t *testing.T) {
	dir := &remote.MockDirectory{
		DeleteFunc: func(ctx context.Context, jobID string) *remote.Failure {
			return remote.ClassifyResponse(409, []byte(`{"error":{"code":"conflict","message":"server copy"}}`))
		},
	}
	m, _ := newTestModel(t, dir)
	m = m.resync()

	m = pressAndRun(t, m, "d")

	assert.Equal(t, "Cannot delete while job is processing or flagged", m.statusLine)
	assert.True(t, m.statusIsErr)
	assert.Len(t, m.snap.Filtered, 3, "failed delete leaves the list alone")
	assert.Contains(t, m.View(), "Cannot delete while job is processing or flagged")
}

func TestFlag_TogglesSelectedJob(t *testing.T) {
	var gotFlagged bool
	dir := &remote.MockDirectory{
		UpdateFlagFunc: func(ctx context.Context, jobID string, flagged bool, note string) (*models.Job, *remote.Failure) {
			gotFlagged = flagged
			job := demoJobs()[0]
			job.IsFlagged = flagged
			return &job, nil
		},
	}
	m, _ := newTestModel(t, dir)
	m = m.resync()

	// j1 is unflagged, so "f" requests flagging.
	m = pressAndRun(t, m, "f")
	assert.True(t, gotFlagged)
	assert.Equal(t, "Job flagged", m.statusLine)
	assert.True(t, m.snap.Filtered[0].IsFlagged)
}

func TestDispatch_BusyJobBlocked(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	dir := &remote.MockDirectory{
		PauseFunc: func(ctx context.Context, jobID string) (*models.Job, *remote.Failure) {
			close(started)
			<-release
			job := demoJobs()[0]
			job.PauseRequested = true
			return &job, nil
		},
	}
	m, _ := newTestModel(t, dir)
	m = m.resync()

	// Start a pause and leave it in flight.
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = updated.(Model)
	require.NotNil(t, cmd)
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	<-started

	// The row is busy; a second command on it is refused locally.
	m = m.resync()
	m = press(t, m, "c")
	assert.Equal(t, "An action is already running for this job", m.statusLine)
	assert.True(t, m.statusIsErr)

	close(release)
	updated, _ = m.Update(<-done)
	m = updated.(Model)
	assert.Equal(t, "Pause requested", m.statusLine)
	assert.True(t, m.snap.Filtered[0].PauseRequested)
}

func TestRefresh_PullsNewList(t *testing.T) {
	jobsNow := demoJobs()
	dir := &remote.MockDirectory{
		ListFunc: func(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *remote.Failure) {
			return jobsNow, nil
		},
	}
	m, _ := newTestModel(t, dir)
	m = m.resync()
	require.Len(t, m.snap.Filtered, 3)

	jobsNow = jobsNow[:1]
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("R")})
	m = updated.(Model)
	require.NotNil(t, cmd)
	updated, _ = m.Update(cmd())
	m = updated.(Model)

	assert.Len(t, m.snap.Filtered, 1)
}

func TestView_EmptyList(t *testing.T) {
	dir := &remote.MockDirectory{
		ListFunc: func(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *remote.Failure) {
			return []models.Job{}, nil
		},
	}
	m, _ := newTestModel(t, dir)
	m = m.resync()
	assert.Contains(t, m.View(), "no jobs")
}
