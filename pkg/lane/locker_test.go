package lane

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker() *Locker {
	return New(Config{Logger: zerolog.Nop()})
}

func TestLocker_AcquireRelease(t *testing.T) {
	l := newTestLocker()

	release, err := l.Acquire(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.True(t, l.Held("conv-1"))
	assert.Equal(t, 1, l.Len())

	release()
	assert.False(t, l.Held("conv-1"))
	assert.Equal(t, 0, l.Len())

	// second release is a no-op
	release()
	assert.Equal(t, 0, l.Len())
}

func TestLocker_MutualExclusion(t *testing.T) {
	l := newTestLocker()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "conv-1")
			require.NoError(t, err)
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, l.Len())
}

func TestLocker_IndependentLanes(t *testing.T) {
	l := newTestLocker()

	releaseA, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	releaseB, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocker_ArrivalOrder(t *testing.T) {
	l := newTestLocker()

	release, err := l.Acquire(context.Background(), "conv-1")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Acquire(context.Background(), "conv-1")
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			r()
		}()
		// let each waiter queue before the next one arrives
		time.Sleep(10 * time.Millisecond)
	}

	release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLocker_AcquireCancelled(t *testing.T) {
	l := newTestLocker()

	release, err := l.Acquire(context.Background(), "conv-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "conv-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Equal(t, 0, l.Len())

	// the cancelled waiter must not have taken the lane
	r, ok := l.TryAcquire("conv-1")
	require.True(t, ok)
	r()
}

func TestLocker_TryAcquire(t *testing.T) {
	l := newTestLocker()

	release, ok := l.TryAcquire("conv-1")
	require.True(t, ok)

	_, ok = l.TryAcquire("conv-1")
	assert.False(t, ok)

	release()

	release, ok = l.TryAcquire("conv-1")
	require.True(t, ok)
	release()
}

func TestLocker_WarnAfter(t *testing.T) {
	var buf syncBuffer
	l := New(Config{
		WarnAfter: 5 * time.Millisecond,
		Logger:    zerolog.New(&buf),
	})

	release, err := l.Acquire(context.Background(), "slow")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), "slow")
		if err == nil {
			r()
		}
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	release()
	<-done

	assert.Contains(t, buf.String(), "Waiting longer than expected")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
