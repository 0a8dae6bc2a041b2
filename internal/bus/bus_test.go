package bus

import (
	"testing"
	"time"
)

func TestPublish_PrefixMatching(t *testing.T) {
	b := New()
	all := b.Subscribe("")
	tasks := b.Subscribe("agent.task.")
	ops := b.Subscribe("operation.")
	defer b.Unsubscribe(all)
	defer b.Unsubscribe(tasks)
	defer b.Unsubscribe(ops)

	b.Publish(TopicTaskStarted, TaskLifecycleEvent{TaskID: "t1"})

	select {
	case ev := <-tasks.Ch():
		if ev.Topic != TopicTaskStarted {
			t.Fatalf("unexpected topic %q", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("task subscriber did not receive event")
	}
	select {
	case <-all.Ch():
	case <-time.After(time.Second):
		t.Fatal("catch-all subscriber did not receive event")
	}
	select {
	case ev := <-ops.Ch():
		t.Fatalf("operation subscriber received unrelated event %q", ev.Topic)
	default:
	}
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicOperationRecorded, i)
	}
	// Publishing past the buffer must not block; drain what was kept.
	count := 0
	for {
		select {
		case <-sub.Ch():
			count++
		default:
			if count != defaultBufferSize {
				t.Fatalf("expected %d buffered events, got %d", defaultBufferSize, count)
			}
			return
		}
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("agent.")
	b.Unsubscribe(sub)
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}
