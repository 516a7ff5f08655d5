package main

import (
	"testing"
	"time"

	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobTypes(t *testing.T) {
	got, err := parseJobTypes(" ledger_export , statement,")
	require.NoError(t, err)
	assert.Equal(t, []jobs.JobType{jobs.JobTypeLedgerExport, jobs.JobTypeStatement}, got)

	_, err = parseJobTypes("ledger_export,payroll")
	assert.ErrorIs(t, err, jobs.ErrUnknownJobType)

	_, err = parseJobTypes(" , ")
	assert.Error(t, err)
}

func TestScheduleJobs(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	batch := scheduleJobs([]string{"a1", "a2"}, []jobs.JobType{jobs.JobTypeStatement, jobs.JobTypeLedgerExport}, from, to)
	require.Len(t, batch, 4)

	assert.Equal(t, "a1", batch[0].AccountID)
	assert.Equal(t, jobs.JobTypeStatement, batch[0].Type)
	assert.Equal(t, jobs.JobTypeLedgerExport, batch[1].Type)
	assert.Equal(t, "a2", batch[3].AccountID)
	for _, j := range batch {
		assert.Equal(t, from, j.From)
		assert.Equal(t, to, j.To)
		assert.Empty(t, j.JobID)
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"x", "y"}, splitList("x,,y ,"))
}
