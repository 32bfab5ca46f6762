package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuildReportsWhenReporterInstalled(t *testing.T) {
	rep := &recordingReporter{}
	SetTelemetryReporter(rep)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(fmt.Errorf("camera busy")).
		Component("stream").
		Category(CategoryDeviceUnavailable).
		Context("operation", "request_stream").
		Build()

	require.Len(t, rep.reported, 1)
	assert.Same(t, ee, rep.reported[0])
	assert.True(t, ee.IsReported())
	assert.Equal(t, "stream", ee.GetComponent())
	assert.Equal(t, "request_stream", ee.GetContext()["operation"])
}

func TestCategoryInheritedFromWrappedError(t *testing.T) {
	inner := New(NewStd("denied")).Category(CategoryPermission).Build()
	outer := New(fmt.Errorf("start session: %w", inner)).Build()

	assert.Equal(t, CategoryPermission, outer.Category)
	assert.True(t, IsCategory(outer, CategoryPermission))
}

func TestIsMatchesByCategoryAndWrappedSentinel(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("sentinel")
	ee := New(fmt.Errorf("wrap: %w", sentinel)).Category(CategoryOverconstrained).Build()

	assert.ErrorIs(t, ee, sentinel)
	assert.ErrorIs(t, ee, &EnhancedError{Category: CategoryOverconstrained})
	assert.NotErrorIs(t, ee, &EnhancedError{Category: CategoryPermission})
}

func TestGetContextReturnsCopy(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).Context("k", "v").Build()
	ctx := ee.GetContext()
	ctx["k"] = "changed"

	assert.Equal(t, "v", ee.GetContext()["k"])
}

