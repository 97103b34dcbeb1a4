package replicate

import "time"

// taskList is the explicit schedule behind deferred forced broadcasts and
// join bursts. It only ever runs on the session loop: schedule, runDue and
// cancelAll never race, and after cancelAll nothing fires, full stop.
type taskList struct {
	tasks []scheduledTask
	seq   int
}

type scheduledTask struct {
	id  int
	due time.Time
	fn  func()
}

func (t *taskList) schedule(now time.Time, d time.Duration, fn func()) int {
	t.seq++
	t.tasks = append(t.tasks, scheduledTask{id: t.seq, due: now.Add(d), fn: fn})
	return t.seq
}

// runDue fires every task whose deadline has passed, removing it first so a
// task scheduling more tasks cannot loop.
func (t *taskList) runDue(now time.Time) int {
	var due []scheduledTask
	kept := t.tasks[:0]
	for _, task := range t.tasks {
		if task.due.After(now) {
			kept = append(kept, task)
		} else {
			due = append(due, task)
		}
	}
	t.tasks = kept
	for _, task := range due {
		task.fn()
	}
	return len(due)
}

func (t *taskList) cancelAll() {
	t.tasks = nil
}

func (t *taskList) pending() int { return len(t.tasks) }
