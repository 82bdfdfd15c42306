package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRingBufferMPMC(t *testing.T) {
	rb := NewRingBuffer[int](1024)
	producers := 10
	consumers := 10
	itemsPerProducer := 10000

	var wg sync.WaitGroup
	var sentSum int64
	var receivedSum int64
	var receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !rb.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := rb.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if sentSum != receivedSum {
			t.Errorf("checksum mismatch: sent %d, received %d", sentSum, receivedSum)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("timeout waiting for consumers: received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

func TestRingBufferRoundsCapacityUpToPowerOfTwo(t *testing.T) {
	rb := NewRingBuffer[int](5)
	if rb.Cap() != 8 {
		t.Fatalf("got cap %d, want 8", rb.Cap())
	}
}

func TestRingBufferFIFOOrderSingleProducerConsumer(t *testing.T) {
	rb := NewRingBuffer[int](4)
	for i := 0; i < 4; i++ {
		if !rb.Enqueue(i) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if rb.Enqueue(99) {
		t.Fatalf("expected enqueue to fail when full")
	}
	for i := 0; i < 4; i++ {
		v, ok := rb.Dequeue()
		if !ok || v != i {
			t.Fatalf("got (%d, %v), want (%d, true)", v, ok, i)
		}
	}
	if _, ok := rb.Dequeue(); ok {
		t.Fatalf("expected dequeue to fail when empty")
	}
}
