package gc

import (
	"sync"
	"testing"
	"time"
)

func TestLockArrayExcludesConcurrentScan(t *testing.T) {
	c := newCollector(t)
	c.StartConcurrent()
	defer c.Finish()

	v := NewList(true)

	var wg sync.WaitGroup
	wg.Add(1)

	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		defer wg.Done()
		c.LockArray(v)
		close(held)
		<-release
		c.UnlockArray(v)
	}()

	<-held

	done := make(chan struct{})
	go func() {
		c.dataLock.Lock()
		c.dataLock.Unlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dataLock should still be held by LockArray's caller")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	wg.Wait()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dataLock should become available once UnlockArray runs")
	}
}

func TestScanContainerNoopWithoutConcurrentWorker(t *testing.T) {
	c := newCollector(t)

	ran := false
	c.scanContainer(NewMap(), func() { ran = true })

	if !ran {
		t.Fatal("scanContainer must still invoke fn in incremental mode")
	}
}
