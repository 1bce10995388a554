package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemLockerSerialisesPerItem(t *testing.T) {
	locker := NewItemLocker()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("item-1")
			defer unlock()
			current := counter
			counter = current + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, locker.size())
}

func TestItemLockerIndependentItems(t *testing.T) {
	locker := NewItemLocker()
	unlockA := locker.Lock("item-a")
	unlockB := locker.Lock("item-b")
	assert.Equal(t, 2, locker.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, locker.size())
}
