package system

import (
	"context"
	"fmt"
	"testing"
)

type recordingService struct {
	name    string
	failOn  bool
	events  *[]string
	stopErr error
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	if s.failOn {
		return fmt.Errorf("%s refused to start", s.name)
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s *recordingService) Stop(ctx context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return s.stopErr
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "b", failOn: true, events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}
	if len(events) != 2 || events[1] != "stop:a" {
		t.Fatalf("started services should be rolled back, got %v", events)
	}
}

func TestManagerRejectsDuplicatesAndLateRegistration(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "a", events: &events}); err == nil {
		t.Fatalf("duplicate name should be rejected")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&recordingService{name: "late", events: &events}); err == nil {
		t.Fatalf("registration after start should be rejected")
	}
}

func TestNoopService(t *testing.T) {
	svc := NoopService{ServiceName: "economy"}
	if svc.Name() != "economy" {
		t.Fatalf("unexpected name %q", svc.Name())
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("noop start: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("noop stop: %v", err)
	}
}
