package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/workflow"
)

func TestStartAttempt(t *testing.T) {
	task := workflow.Task{ID: "T-1", Status: workflow.TaskPending}

	task = workflow.StartAttempt(task)

	require.Equal(t, workflow.TaskInProgress, task.Status)
	require.Equal(t, 1, task.Attempt)

	task = workflow.StartAttempt(task)
	require.Equal(t, 2, task.Attempt)
}

func TestRecordAttempt_OutcomeDrivesStatus(t *testing.T) {
	cases := []struct {
		outcome workflow.AttemptOutcome
		want    workflow.TaskStatus
	}{
		{workflow.OutcomeSuccess, workflow.TaskComplete},
		{workflow.OutcomeBlocked, workflow.TaskBlocked},
		{workflow.OutcomeFailure, workflow.TaskInProgress},
		{workflow.OutcomePartial, workflow.TaskInProgress},
	}
	for _, tc := range cases {
		task := workflow.Task{ID: "T-1", Status: workflow.TaskInProgress, Attempt: 1}
		task = workflow.RecordAttempt(task, workflow.AttemptRecord{Attempt: 1, Outcome: tc.outcome})
		require.Equal(t, tc.want, task.Status, "outcome %s", tc.outcome)
		require.Len(t, task.AttemptHistory, 1)
		require.Equal(t, tc.outcome, task.AttemptHistory[0].Outcome)
	}
}

func TestRecordAttempt_AppendsHistoryAcrossAttempts(t *testing.T) {
	task := workflow.Task{ID: "T-1"}
	task = workflow.RecordAttempt(task, workflow.AttemptRecord{Attempt: 1, Outcome: workflow.OutcomeFailure, Summary: "first try"})
	task = workflow.RecordAttempt(task, workflow.AttemptRecord{Attempt: 2, Outcome: workflow.OutcomeSuccess, Summary: "second try"})

	require.Len(t, task.AttemptHistory, 2)
	require.Equal(t, "first try", task.AttemptHistory[0].Summary)
	require.Equal(t, "second try", task.AttemptHistory[1].Summary)
	require.Equal(t, workflow.TaskComplete, task.Status)
}

func TestMilestonePassed(t *testing.T) {
	tasks := map[string]workflow.Task{
		"T-1": {ID: "T-1", Status: workflow.TaskComplete},
		"T-2": {ID: "T-2", Status: workflow.TaskInProgress},
	}
	m := workflow.Milestone{ID: "M-1", TaskIDs: []string{"T-1", "T-2"}}
	require.False(t, workflow.MilestonePassed(m, tasks))

	tasks["T-2"] = workflow.Task{ID: "T-2", Status: workflow.TaskComplete}
	require.True(t, workflow.MilestonePassed(m, tasks))
}

func TestMilestonePassed_MissingTaskIsNotPassed(t *testing.T) {
	m := workflow.Milestone{ID: "M-1", TaskIDs: []string{"T-unknown"}}
	require.False(t, workflow.MilestonePassed(m, map[string]workflow.Task{}))
}
