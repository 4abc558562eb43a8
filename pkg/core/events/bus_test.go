package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Event{Type: WorkflowStarted, WorkflowID: "abcd", WorkflowName: "transferFunds"}))
	require.NoError(t, bus.Publish(Event{Type: StepCompleted, WorkflowID: "abcd", StepName: "transfer_money", StepIndex: 0}))

	select {
	case evt := <-ch:
		assert.Equal(t, WorkflowStarted, evt.Type)
		assert.Equal(t, "abcd", evt.WorkflowID)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到事件")
	}

	select {
	case evt := <-ch:
		assert.Equal(t, StepCompleted, evt.Type)
		assert.Equal(t, "transfer_money", evt.StepName)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到事件")
	}
}

func TestBus_SubscribeClosesOnCancel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("通道未关闭")
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 订阅后从不读取
	_, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			_ = bus.Publish(Event{Type: StepCompleted, WorkflowID: "abcd", StepIndex: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("发布被慢订阅者阻塞")
	}
	assert.Eventually(t, func() bool {
		return bus.Dropped() == total-SubscriberBuffer
	}, 2*time.Second, 10*time.Millisecond)
}
