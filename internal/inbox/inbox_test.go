package inbox

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/livinlefevreloca/pulse/internal/testutil"
)

func TestInbox_Send_Success(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](10, 100*time.Millisecond, logger.Logger())

	for i := 0; i < 5; i++ {
		if err := ib.Send(i); err != nil {
			t.Errorf("expected send %d to succeed, got %v", i, err)
		}
	}

	stats := ib.Stats()
	if stats.TotalSent != 5 {
		t.Errorf("expected TotalSent to be 5, got %d", stats.TotalSent)
	}
	if stats.TimeoutCount != 0 {
		t.Errorf("expected TimeoutCount to be 0, got %d", stats.TimeoutCount)
	}
}

func TestInbox_Send_Timeout(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](2, 10*time.Millisecond, logger.Logger())

	for i := 0; i < 2; i++ {
		if err := ib.Send(i); err != nil {
			t.Fatalf("expected send %d to succeed, got %v", i, err)
		}
	}

	err := ib.Send(3)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if ib.Stats().TimeoutCount != 1 {
		t.Errorf("expected TimeoutCount to be 1, got %d", ib.Stats().TimeoutCount)
	}
	if !logger.HasWarning() {
		t.Error("expected a warning to be logged on timeout")
	}
}

func TestInbox_Send_UnblocksWhenDrained(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](1, time.Second, logger.Logger())

	if err := ib.Send(1); err != nil {
		t.Fatalf("first send failed: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- ib.Send(2)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, ok := ib.TryReceive(); !ok {
		t.Fatal("expected a queued message")
	}

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("expected blocked send to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked send never completed")
	}
}

func TestInbox_Send_AfterClose(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](10, 100*time.Millisecond, logger.Logger())

	ib.Close()
	ib.Close()

	if err := ib.Send(1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestInbox_Send_CloseWhileBlocked(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](1, 5*time.Second, logger.Logger())
	_ = ib.Send(1)

	result := make(chan error, 1)
	go func() {
		result <- ib.Send(2)
	}()

	time.Sleep(20 * time.Millisecond)
	ib.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send did not observe close")
	}
}

func TestInbox_TryReceive_PreservesOrder(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[string](10, 100*time.Millisecond, logger.Logger())

	for _, s := range []string{"a", "b", "c"} {
		_ = ib.Send(s)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := ib.TryReceive()
		if !ok {
			t.Fatalf("expected message %q", want)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}

	if ib.Stats().TotalReceived != 3 {
		t.Errorf("expected TotalReceived to be 3, got %d", ib.Stats().TotalReceived)
	}
}

func TestInbox_TryReceive_Empty(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](10, 100*time.Millisecond, logger.Logger())

	msg, ok := ib.TryReceive()
	if ok {
		t.Error("expected TryReceive to return false for empty inbox")
	}
	if msg != 0 {
		t.Error("expected zero message value")
	}
}

func TestInbox_UpdateDepthStats(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](10, 100*time.Millisecond, logger.Logger())

	for i := 0; i < 8; i++ {
		_ = ib.Send(i)
	}
	ib.UpdateDepthStats()

	for i := 0; i < 4; i++ {
		ib.TryReceive()
	}
	ib.UpdateDepthStats()

	stats := ib.Stats()
	if stats.CurrentDepth != 4 {
		t.Errorf("expected CurrentDepth to be 4, got %d", stats.CurrentDepth)
	}
	if stats.MaxDepthSeen != 8 {
		t.Errorf("expected MaxDepthSeen to still be 8, got %d", stats.MaxDepthSeen)
	}
	if ib.Len() != 4 {
		t.Errorf("expected Len to be 4, got %d", ib.Len())
	}
}

func TestInbox_ConcurrentSenders(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](100, 100*time.Millisecond, logger.Logger())

	const numSenders = 5
	const numMessages = 20

	var wg sync.WaitGroup
	for i := 0; i < numSenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numMessages; j++ {
				_ = ib.Send(j)
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := ib.TryReceive(); !ok {
			break
		}
		received++
	}

	if received != numSenders*numMessages {
		t.Errorf("expected to receive %d messages, got %d", numSenders*numMessages, received)
	}
}
