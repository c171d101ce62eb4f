package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pigeon/internal/bus"

	"go.uber.org/zap"
)

// fakeBackend is a scriptable in-memory backend.
type fakeBackend struct {
	mu       sync.Mutex
	dialErr  error
	sent     [][]byte
	frames   chan []byte
	closed   bool
	closeErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{frames: make(chan []byte, 16)}
}

func (f *fakeBackend) Dial(_ context.Context, _ string) error { return f.dialErr }

func (f *fakeBackend) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeBackend) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-f.frames:
		if !ok {
			return nil, ErrCleanClose
		}
		if data == nil {
			return nil, errors.New("connection reset")
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConn(t *testing.T, fb *fakeBackend) (*Conn, *bus.Bus) {
	t.Helper()
	b := bus.New()
	c := NewConn(func() Backend { return fb }, b, zap.NewNop())
	return c, b
}

func waitStatus(t *testing.T, c *Conn, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", c.Status(), want)
}

func TestConnectAndReceive(t *testing.T) {
	fb := newFakeBackend()
	c, _ := testConn(t, fb)

	got := make(chan []byte, 1)
	c.OnMessage(func(data []byte) { got <- data })

	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}
	if c.Status() != Open {
		t.Fatalf("status = %v, want Open", c.Status())
	}

	fb.frames <- []byte(`{"hello":1}`)
	select {
	case data := <-got:
		if string(data) != `{"hello":1}` {
			t.Errorf("frame = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestConnectIdempotentWhenOpen(t *testing.T) {
	fb := newFakeBackend()
	c, _ := testConn(t, fb)
	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}
	if c.Status() != Open {
		t.Errorf("status = %v, want Open", c.Status())
	}
}

func TestDialFailureLeavesClosed(t *testing.T) {
	fb := newFakeBackend()
	fb.dialErr = errors.New("refused")
	c, _ := testConn(t, fb)

	if err := c.Connect(context.Background(), "ws://test"); err == nil {
		t.Fatal("expected dial error")
	}
	if c.Status() != Closed {
		t.Errorf("status = %v, want Closed", c.Status())
	}
}

func TestSendNoopUnlessOpen(t *testing.T) {
	fb := newFakeBackend()
	c, _ := testConn(t, fb)

	// Never throws, never reaches the backend.
	c.Send([]byte("frame"))
	if fb.sentCount() != 0 {
		t.Errorf("sent %d frames while closed, want 0", fb.sentCount())
	}

	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}
	c.Send([]byte("frame"))
	if fb.sentCount() != 1 {
		t.Errorf("sent %d frames while open, want 1", fb.sentCount())
	}
}

func TestCloseIsSafeAndSwallowsErrors(t *testing.T) {
	fb := newFakeBackend()
	fb.closeErr = errors.New("already broken")
	c, _ := testConn(t, fb)

	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if c.Status() != SafeClosed {
		t.Errorf("status = %v, want SafeClosed", c.Status())
	}

	// Frames after close are not delivered and sends are no-ops.
	c.Send([]byte("frame"))
	if fb.sentCount() != 0 {
		t.Errorf("sent after close")
	}
}

func TestAbnormalCloseSetsClosed(t *testing.T) {
	fb := newFakeBackend()
	c, _ := testConn(t, fb)
	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}

	fb.frames <- nil // scripted receive error
	waitStatus(t, c, Closed)
}

func TestCleanRemoteCloseSetsSafeClosed(t *testing.T) {
	fb := newFakeBackend()
	c, _ := testConn(t, fb)
	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}

	close(fb.frames)
	waitStatus(t, c, SafeClosed)
}

func TestStatusTransitionsPublished(t *testing.T) {
	fb := newFakeBackend()
	c, b := testConn(t, fb)
	ch, unsub := b.Subscribe(bus.KindWSStatus, 16)
	defer unsub()

	if err := c.Connect(context.Background(), "ws://test"); err != nil {
		t.Fatal(err)
	}

	want := []Status{Connecting, Open}
	for _, w := range want {
		select {
		case evt := <-ch:
			change := evt.Payload.(StatusChange)
			if change.To != w {
				t.Errorf("transition to %v, want %v", change.To, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing transition to %v", w)
		}
	}
}
