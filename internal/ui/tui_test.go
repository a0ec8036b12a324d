package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTUIRenderer_ReturnsNilForNonTTY(t *testing.T) {
	// Given: a non-TTY buffer
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf)

	// When: creating TUI renderer
	r, err := NewTUIRenderer(cfg)

	// Then: returns error (can't create TUI for non-TTY)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestBuildModel_InitialView(t *testing.T) {
	// Given: a new build model with properly initialized tracker
	tracker := NewProgressTracker()
	model := newBuildModel(tracker, "")

	// When: getting initial view
	view := model.View()

	// Then: view contains stage indicators
	assert.Contains(t, view, "Hash")
}

func TestBuildModel_StageIndicators(t *testing.T) {
	// Given: a model at different stages
	tracker := NewProgressTracker()
	model := newBuildModel(tracker, "")

	// When: rendering at fingerprint stage
	tracker.SetStage(StageFingerprint, 100)
	view := model.View()

	// Then: all stage indicators are shown (short names)
	assert.Contains(t, view, "Hash")
	assert.Contains(t, view, "Extract")
	assert.Contains(t, view, "Chunk")
	assert.Contains(t, view, "Embed")
	assert.Contains(t, view, "Index")
}

func TestBuildModel_ProgressDisplay(t *testing.T) {
	// Given: a model with progress
	tracker := NewProgressTracker()
	tracker.SetStage(StageFingerprint, 100)
	tracker.Update(50, "docs/report.pdf")

	model := newBuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: progress is shown
	assert.Contains(t, view, "50")
	assert.Contains(t, view, "100")
}

func TestBuildModel_SourceDisplay(t *testing.T) {
	// Given: a model with current source
	tracker := NewProgressTracker()
	tracker.SetStage(StageFingerprint, 100)
	tracker.Update(1, "docs/archive/Q3-report.pdf")

	model := newBuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: source path is shown (possibly truncated)
	assert.Contains(t, view, "Q3-report.pdf")
}

func TestBuildModel_ErrorDisplay(t *testing.T) {
	// Given: a model with errors
	tracker := NewProgressTracker()
	tracker.AddError(ErrorEvent{
		Source: "broken.pdf",
		Err:    assert.AnError,
		IsWarn: false,
	})
	tracker.AddError(ErrorEvent{
		Source: "skipped.pdf",
		Err:    assert.AnError,
		IsWarn: true,
	})

	model := newBuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: error count is shown
	assert.Contains(t, view, "1")
}

func TestBuildModel_CompletionState(t *testing.T) {
	// Given: a completed model
	tracker := NewProgressTracker()
	tracker.SetStage(StageComplete, 0)

	model := newBuildModel(tracker, "")
	model.complete = true
	model.stats = CompletionStats{
		Sources: 100,
		Chunks:  500,
	}

	// When: rendering view
	view := model.View()

	// Then: shows completion
	assert.Contains(t, view, "Complete")
}

func TestTruncatePath_Short(t *testing.T) {
	// Given: a short path
	path := "docs/report.pdf"

	// When: truncating
	result := truncatePath(path, 50)

	// Then: unchanged
	assert.Equal(t, path, result)
}

func TestTruncatePath_Long(t *testing.T) {
	// Given: a long path
	path := "docs/archive/very/deeply/nested/directory/file.pdf"

	// When: truncating to 30 chars
	result := truncatePath(path, 30)

	// Then: truncated with ellipsis
	assert.LessOrEqual(t, len(result), 30)
	assert.Contains(t, result, "...")
	assert.Contains(t, result, "file.pdf") // Keeps filename
}

func TestTruncatePath_Empty(t *testing.T) {
	// Given: empty path
	path := ""

	// When: truncating
	result := truncatePath(path, 50)

	// Then: returns empty
	assert.Equal(t, "", result)
}

func TestTUIRenderer_InterfaceCompliance(t *testing.T) {
	// Ensure TUIRenderer implements Renderer
	var _ Renderer = (*TUIRenderer)(nil)
}
