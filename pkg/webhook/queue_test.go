package webhook

import (
	"testing"
	"time"
)

func TestDelayedQueue_OrdersByDueTime(t *testing.T) {
	q := newDelayedQueue()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	q.Schedule("late", base.Add(10*time.Second))
	q.Schedule("early", base.Add(time.Second))
	q.Schedule("mid", base.Add(5*time.Second))

	due := q.PopDue(base.Add(6 * time.Second))
	if len(due) != 2 || due[0] != "early" || due[1] != "mid" {
		t.Fatalf("PopDue = %v, want [early mid]", due)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestDelayedQueue_DueAtExactInstant(t *testing.T) {
	q := newDelayedQueue()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	q.Schedule("d1", at)
	if due := q.PopDue(at); len(due) != 1 {
		t.Errorf("delivery due exactly now should pop, got %v", due)
	}
}

func TestDelayedQueue_RescheduleMovesInsteadOfDuplicating(t *testing.T) {
	q := newDelayedQueue()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	q.Schedule("d1", base.Add(time.Minute))
	q.Schedule("d1", base.Add(time.Second))

	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after reschedule", q.Len())
	}
	due := q.PopDue(base.Add(2 * time.Second))
	if len(due) != 1 || due[0] != "d1" {
		t.Fatalf("PopDue = %v, want [d1] at moved time", due)
	}
}

func TestDelayedQueue_Remove(t *testing.T) {
	q := newDelayedQueue()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	q.Schedule("d1", base)
	q.Schedule("d2", base)
	q.Remove("d1")
	q.Remove("absent")

	due := q.PopDue(base)
	if len(due) != 1 || due[0] != "d2" {
		t.Errorf("PopDue = %v, want [d2]", due)
	}
}

func TestDelayedQueue_NextDue(t *testing.T) {
	q := newDelayedQueue()
	if _, ok := q.NextDue(); ok {
		t.Error("empty queue should report no next due")
	}

	at := time.Date(2026, 3, 1, 0, 0, 30, 0, time.UTC)
	q.Schedule("d1", at.Add(time.Minute))
	q.Schedule("d2", at)

	next, ok := q.NextDue()
	if !ok || !next.Equal(at) {
		t.Errorf("NextDue = %v, %v; want %v, true", next, ok, at)
	}
}

func TestDelayedQueue_WakeSignalledOnSchedule(t *testing.T) {
	q := newDelayedQueue()
	q.Schedule("d1", time.Now())

	select {
	case <-q.Wake():
	default:
		t.Error("Schedule should signal the wake channel")
	}
}
