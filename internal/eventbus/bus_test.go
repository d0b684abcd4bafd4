package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

func TestPublishPTYDataOrderPerAgent(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var received []string

	b.OnPTYData(func(agentID string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, agentID+":"+string(data))
	})

	b.PublishPTYData("a1", []byte("one"))
	b.PublishPTYData("a1", []byte("two"))
	b.PublishPTYData("a1", []byte("three"))

	assert.Equal(t, []string{"a1:one", "a1:two", "a1:three"}, received)
}

func TestRegistrationOrderPreserved(t *testing.T) {
	b := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.OnPTYExit(func(agentID string, exitCode int, lastOutput string, err error) {
			order = append(order, i)
		})
	}

	b.PublishPTYExit("a1", 0, "", nil)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.OnHookEvent(func(agentID string, event adapter.HookEvent) { calls++ })

	unsub()
	unsub() // must not panic or double-remove another listener

	b.PublishHookEvent("a1", adapter.HookEvent{})
	assert.Equal(t, 0, calls)
}

func TestRemoveAllListenersZeroesCounts(t *testing.T) {
	b := New()
	b.OnPTYData(func(string, []byte) {})
	b.OnHookEvent(func(string, adapter.HookEvent) {})
	b.OnPTYExit(func(string, int, string, error) {})
	b.OnAgentSpawned(func(string, string, string, map[string]any) {})

	counts := b.GetListenerCounts()
	require.Equal(t, 1, counts.PTYData)
	require.Equal(t, 1, counts.HookEvent)
	require.Equal(t, 1, counts.PTYExit)
	require.Equal(t, 1, counts.AgentSpawned)

	b.RemoveAllListeners()

	counts = b.GetListenerCounts()
	assert.Equal(t, ListenerCounts{}, counts)
}

func TestInactiveBusShortCircuitsEmit(t *testing.T) {
	b := New()
	calls := 0
	b.OnAgentSpawned(func(string, string, string, map[string]any) { calls++ })

	b.SetActive(false)
	b.PublishAgentSpawned("a1", "quick", "p1", nil)

	assert.Equal(t, 0, calls)
}

func TestConcurrentPublishDoesNotRace(t *testing.T) {
	b := New()
	b.OnPTYData(func(string, []byte) {})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.PublishPTYData("a1", []byte("x"))
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for concurrent publishes")
	}
}
