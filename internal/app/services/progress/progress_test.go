package progress

import (
	"testing"
	"time"
)

func TestPublish_DeliversToJobSubscriberAndAllJobsSubscriber(t *testing.T) {
	b := New()
	jobSub := b.Subscribe("job-1")
	defer jobSub.Close()
	allSub := b.Subscribe(allJobsTopic)
	defer allSub.Close()

	b.Publish(Event{Type: EventProgress, JobID: "job-1", Current: 1, Total: 10})

	select {
	case ev := <-jobSub.Events:
		if ev.JobID != "job-1" {
			t.Fatalf("expected job-1 event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job subscriber event")
	}

	select {
	case ev := <-allSub.Events:
		if ev.JobID != "job-1" {
			t.Fatalf("expected job-1 event on all-jobs topic, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all-jobs subscriber event")
	}
}

func TestPublish_UnrelatedJobSubscriberDoesNotReceiveEvent(t *testing.T) {
	b := New()
	sub := b.Subscribe("job-2")
	defer sub.Close()

	b.Publish(Event{Type: EventProgress, JobID: "job-1"})

	select {
	case ev := <-sub.Events:
		t.Fatalf("did not expect an event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_SlowSubscriberDropsEventsWithoutBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("job-1")
	defer sub.Close()

	for i := 0; i < queueDepth+10; i++ {
		b.Publish(Event{Type: EventProgress, JobID: "job-1", Current: int64(i)})
	}

	if len(sub.Events) != queueDepth {
		t.Fatalf("expected subscriber queue to saturate at %d, got %d", queueDepth, len(sub.Events))
	}
}

func TestClose_UnregistersSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe("job-1")
	if b.SubscriberCount("job-1") != 1 {
		t.Fatal("expected 1 subscriber before close")
	}
	sub.Close()
	if b.SubscriberCount("job-1") != 0 {
		t.Fatal("expected 0 subscribers after close")
	}
	sub.Close() // idempotent
}
