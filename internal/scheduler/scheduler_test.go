package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobDescriptor(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("@hourly", func() {}); err != nil {
		t.Errorf("Expected descriptor schedules to be accepted, got %v", err)
	}
}

func TestSchedulerAddJobInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a schedule", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression, got nil")
	}
}
