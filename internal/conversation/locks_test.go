package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocksSerializeSameKey(t *testing.T) {
	t.Parallel()

	locks := NewLocks()

	const goroutines = 32
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire("1:telegram:user-1")
			defer release()
			// Unsynchronized increment; the lock is the only protection.
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestLocksDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	locks := NewLocks()
	releaseA := locks.Acquire("a")

	done := make(chan struct{})
	go func() {
		releaseB := locks.Acquire("b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire on a different key blocked")
	}
	releaseA()
}

func TestLocksPrune(t *testing.T) {
	t.Parallel()

	locks := NewLocks()
	release := locks.Acquire("idle")
	release()
	assert.Equal(t, 1, locks.Len())

	// Still within the idle window.
	assert.Equal(t, 0, locks.Prune(time.Hour))
	assert.Equal(t, 1, locks.Len())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, locks.Prune(time.Millisecond))
	assert.Equal(t, 0, locks.Len())
}

func TestLocksPruneSkipsHeldLocks(t *testing.T) {
	t.Parallel()

	locks := NewLocks()
	release := locks.Acquire("busy")
	defer release()

	assert.Equal(t, 0, locks.Prune(0))
	assert.Equal(t, 1, locks.Len())
}

func TestLeadKeyString(t *testing.T) {
	t.Parallel()

	key := LeadKey{TenantID: 3, ChannelType: "whatsapp", ExternalUserID: "15551234"}
	assert.Equal(t, "3:whatsapp:15551234", key.String())
}
