package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()

	e := &Engine{}
	assert.True(t, r.Add("call-1", e))
	assert.False(t, r.Add("call-1", &Engine{}), "second engine for the same call must be rejected")

	assert.Same(t, e, r.Get("call-1"))
	assert.Nil(t, r.Get("call-2"))
	assert.Equal(t, 1, r.Len())

	r.Remove("call-1")
	assert.Nil(t, r.Get("call-1"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			callID := fmt.Sprintf("call-%d", i)
			r.Add(callID, &Engine{})
			r.Get(callID)
			r.Remove(callID)
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
