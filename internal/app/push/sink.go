package push

import "github.com/tasuku43/gitpush/internal/domain/task"

// taskSink appends publish output to the task transcripts. Lines arrive
// already redacted.
type taskSink struct {
	store *task.Store
	id    string
}

func (s *taskSink) Stdout(line string) {
	_, _ = s.store.Update(s.id, func(t *task.Task) {
		t.Output = task.AppendLine(t.Output, line)
		t.Progress = line
	})
}

func (s *taskSink) Stderr(line string) {
	_, _ = s.store.Update(s.id, func(t *task.Task) {
		t.Error = task.AppendLine(t.Error, line)
		t.Progress = line
	})
}
