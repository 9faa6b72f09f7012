package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusBlocking(t *testing.T) {
	assert.True(t, JobScheduled.Blocking())
	assert.True(t, JobInProgress.Blocking())
	assert.True(t, JobRescheduled.Blocking())
	assert.False(t, JobCancelled.Blocking())
	assert.False(t, JobCompleted.Blocking())

	assert.True(t, JobScheduled.Movable())
	assert.False(t, JobInProgress.Movable())
	assert.False(t, JobCompleted.Movable())
}

func TestWorkerHasSkills(t *testing.T) {
	w := Worker{Skills: []string{"HVAC", "electrical "}}
	assert.True(t, w.HasSkills([]string{"hvac"}))
	assert.True(t, w.HasSkills(nil))
	assert.False(t, w.HasSkills([]string{"hvac", "plumbing"}))
	assert.Equal(t, 1, SkillOverlap([]string{"hvac", "plumbing", "HVAC"}, w.Skills))
}

func TestBusinessLocation(t *testing.T) {
	loc, err := Business{Timezone: "America/Chicago"}.Location()
	assert.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())

	loc, err = Business{}.Location()
	assert.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = Business{ID: "b1", Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	nf := NotFound("job", "j1")
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.Equal(t, "job j1 not found", nf.Error())

	up := Upstream("jobs", errors.New("connection reset"))
	assert.True(t, errors.Is(up, ErrUpstreamRead))
	assert.Contains(t, up.Error(), "connection reset")

	// Already classified errors pass through untouched.
	assert.Same(t, nf, Upstream("jobs", nf))
	wrapped := fmt.Errorf("load: %w", up)
	assert.True(t, errors.Is(wrapped, ErrUpstreamRead))

	assert.True(t, errors.Is(Invalid("end", "must be after start"), ErrValidation))
	assert.True(t, errors.Is(Conflict("slot taken"), ErrConflict))
}
