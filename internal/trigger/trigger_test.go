package trigger

import (
	"testing"
	"time"

	"github.com/djlord-it/jobrun/internal/domain"
)

func TestEvaluate_MonthlySchedule(t *testing.T) {
	spec := domain.ScheduleSpec{CronExpression: "0 21 1 * *", Timezone: "UTC"}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"fire time", time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC), true},
		{"one minute early", time.Date(2024, 3, 1, 20, 59, 0, 0, time.UTC), false},
		{"next month fire time", time.Date(2024, 4, 1, 21, 0, 0, 0, time.UTC), true},
		{"second day", time.Date(2024, 3, 2, 21, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.now, spec, false)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%s) = %v, want %v", tt.now.Format(time.RFC3339), got, tt.want)
			}
		})
	}
}

// Evaluate must be deterministic: repeated calls with the same inputs give
// the same answer regardless of call order.
func TestEvaluate_Purity(t *testing.T) {
	spec := domain.ScheduleSpec{CronExpression: "*/5 * * * *", Timezone: "UTC"}
	at := time.Date(2024, 6, 10, 12, 5, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		got, err := Evaluate(at, spec, false)
		if err != nil {
			t.Fatalf("Evaluate returned error: %v", err)
		}
		if !got {
			t.Fatalf("call %d: Evaluate = false, want true", i)
		}
	}
}

func TestEvaluate_ManualDispatch(t *testing.T) {
	// Manual dispatch fires regardless of the cron expression.
	spec := domain.ScheduleSpec{CronExpression: "0 21 1 * *", Timezone: "UTC", AllowManual: true}
	offSchedule := time.Date(2024, 3, 15, 3, 33, 0, 0, time.UTC)

	got, err := Evaluate(offSchedule, spec, true)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !got {
		t.Error("manual dispatch should fire off-schedule when AllowManual is set")
	}

	// Manual dispatch on a job that forbids it does not fire.
	spec.AllowManual = false
	got, err = Evaluate(offSchedule, spec, true)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if got {
		t.Error("manual dispatch should not fire when AllowManual is false")
	}
}

func TestEvaluate_ManualOnlySchedule(t *testing.T) {
	spec := domain.ScheduleSpec{AllowManual: true}
	now := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	got, err := Evaluate(now, spec, false)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if got {
		t.Error("schedule evaluation should never fire a manual-only job")
	}
}

func TestEvaluate_DefaultTimezone(t *testing.T) {
	spec := domain.ScheduleSpec{CronExpression: "0 21 1 * *"} // no timezone = UTC
	got, err := Evaluate(time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC), spec, false)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !got {
		t.Error("empty timezone should default to UTC")
	}
}

func TestEvaluate_InvalidExpression(t *testing.T) {
	spec := domain.ScheduleSpec{CronExpression: "not a cron"}
	if _, err := Evaluate(time.Now(), spec, false); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
