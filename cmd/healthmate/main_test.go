package main

import (
	"context"
	"errors"
	"testing"

	"github.com/healthmate/healthmate/internal/domain/pipeline"
	"github.com/healthmate/healthmate/internal/platform/websocket"
)

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "status"}, {"etl", "run"}, {"backup", "run"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not registered: %v", path, err)
		}
	}
	run, _, _ := root.Find([]string{"etl", "run"})
	if f := run.Flags().Lookup("config"); f == nil || f.DefValue != "jobs.yaml" {
		t.Errorf("etl run should default --config to jobs.yaml")
	}
	if run.Flags().Lookup("job") == nil {
		t.Error("etl run should accept --job")
	}
}

func TestBatchJobs(t *testing.T) {
	jobs := []*pipeline.ETLJobConfig{
		{Name: "daily", Mode: pipeline.ModeBatch, Enabled: true},
		{Name: "paused", Mode: pipeline.ModeBatch, Enabled: false},
		{Name: "stream", Mode: pipeline.ModeStreaming, Enabled: true},
	}

	all, err := batchJobs(jobs, "")
	if err != nil || len(all) != 1 || all[0].Name != "daily" {
		t.Errorf("expected only enabled batch jobs, got %v err=%v", all, err)
	}
	one, err := batchJobs(jobs, "paused")
	if err != nil || len(one) != 1 || one[0].Name != "paused" {
		t.Errorf("a named job runs even when disabled, got %v err=%v", one, err)
	}
	if _, err := batchJobs(jobs, "stream"); err == nil {
		t.Error("expected error for streaming job")
	}
	if _, err := batchJobs(jobs, "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

type recordingPublisher struct {
	events []websocket.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestFanout(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}
	ev, err := websocket.NewEvent("health_data.created", websocket.UserTopic("alice"), "health_data", "1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := (fanout{failing, ok}).Publish(context.Background(), ev); err == nil {
		t.Error("expected the failing publisher's error")
	}
	if len(failing.events) != 1 || len(ok.events) != 1 {
		t.Errorf("every publisher should receive the event: %d %d", len(failing.events), len(ok.events))
	}
}
