package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upperDecode(data []byte, _ string) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return out, nil
}

func TestDecompressRunsThroughWorker(t *testing.T) {
	p := New(2, 4, upperDecode)
	defer p.Stop()

	out, err := p.Decompress(context.Background(), []byte("hello"), "")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(out))
}

func TestSubmitFailsFastWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	decode := func(data []byte, _ string) ([]byte, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return data, nil
	}

	p := New(1, 1, decode)
	var closeOnce sync.Once
	closeBlock := func() { closeOnce.Do(func() { close(block) }) }
	defer func() {
		closeBlock()
		p.Stop()
	}()

	// First task occupies the single worker.
	ch1, err := p.Submit(context.Background(), []byte("a"), "")
	require.NoError(t, err)
	<-started

	// Second fills the bounded queue of capacity 1.
	_, err = p.Submit(context.Background(), []byte("b"), "")
	require.NoError(t, err)

	// Third must fail fast.
	_, err = p.Submit(context.Background(), []byte("c"), "")
	require.ErrorIs(t, err, ErrQueueFull)

	closeBlock()
	select {
	case res := <-ch1:
		require.NoError(t, res.err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first task")
	}
}

func TestStopDrainsQueueAndRejectsNewTasks(t *testing.T) {
	var processed sync.WaitGroup
	processed.Add(1)
	decode := func(data []byte, _ string) ([]byte, error) {
		defer processed.Done()
		return data, nil
	}

	p := New(1, 4, decode)
	_, err := p.Submit(context.Background(), []byte("x"), "")
	require.NoError(t, err)

	p.Stop()
	processed.Wait()

	_, err = p.Submit(context.Background(), []byte("y"), "")
	require.True(t, errors.Is(err, ErrStopped))
}

func TestConcurrentSubmitDuringStopNeverPanics(t *testing.T) {
	p := New(4, 64, upperDecode)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Submit panicked: %v", r)
				}
			}()
			_, _ = p.Submit(context.Background(), []byte("x"), "")
		}()
	}

	p.Stop()
	wg.Wait()
}

func TestStatsTracksSuccessAndFailure(t *testing.T) {
	decode := func(data []byte, _ string) ([]byte, error) {
		if len(data) == 0 {
			return nil, errors.New("empty")
		}
		return data, nil
	}
	p := New(1, 4, decode)
	defer p.Stop()

	_, err := p.Decompress(context.Background(), []byte("ok"), "")
	require.NoError(t, err)

	_, err = p.Decompress(context.Background(), []byte{}, "")
	require.Error(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
}
