package sync

import (
	"strconv"
	"sync"
	"testing"
)

func TestMap(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("key", 19)
	i, ok := m.Get("key")
	if !ok {
		t.Fatal("get not okay")
	}
	if i != 19 {
		t.Fatal("data not equal, expected 19 got ", i)
	}
	v, isNew := m.GetOrInit("key", func() int { return 1 })
	if isNew || v != 19 {
		t.Fatal("get or init replaced existing value", v, isNew)
	}
	v, isNew = m.GetOrInit("other", func() int { return 1 })
	if !isNew || v != 1 {
		t.Fatal("get or init did not init", v, isNew)
	}
	snapshot := m.GetMap()
	snapshot["key"] = 0
	if i, _ := m.Get("key"); i != 19 {
		t.Fatal("snapshot write leaked into map")
	}
	if v, ok := m.Delete("key"); !ok || v != 19 {
		t.Fatal("delete did not return stored value", v, ok)
	}
	if _, ok := m.Delete("key"); ok {
		t.Fatal("double delete reported ok")
	}
	if m.Len() != 1 {
		t.Fatal("unexpected length", m.Len())
	}
}

func TestMapConcurrent(t *testing.T) {
	m := NewMap[string, int]()
	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(strconv.Itoa(i), i)
		}(i)
	}
	wg.Wait()
	if m.Len() != 50 {
		t.Fatal("lost writes", m.Len())
	}
}
