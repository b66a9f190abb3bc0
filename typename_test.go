package oncez

import (
	"sync"
	"testing"
)

type namedThing struct{}

func TestTypeName(t *testing.T) {
	t.Run("Resolves Concrete And Pointer Types", func(t *testing.T) {
		if got := typeName[namedThing](); got != "oncez.namedThing" {
			t.Errorf("expected oncez.namedThing, got %s", got)
		}
		if got := typeName[*namedThing](); got != "*oncez.namedThing" {
			t.Errorf("expected *oncez.namedThing, got %s", got)
		}
		if got := typeName[int](); got != "int" {
			t.Errorf("expected int, got %s", got)
		}
	})

	t.Run("Resolves Interface Types", func(t *testing.T) {
		if got := typeName[error](); got != "error" {
			t.Errorf("expected error, got %s", got)
		}
	})

	t.Run("Distinct Types Have Distinct Keys", func(t *testing.T) {
		if typeOf[namedThing]() == typeOf[*namedThing]() {
			t.Error("value and pointer types must not share a key")
		}
		if typeOf[int]() == typeOf[int64]() {
			t.Error("int and int64 must not share a key")
		}
	})

	t.Run("Cached Result Is Stable Under Concurrency", func(t *testing.T) {
		const callers = 50

		start := make(chan struct{})
		results := make([]string, callers)
		var wg sync.WaitGroup

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				<-start
				results[idx] = typeName[*namedThing]()
			}(i)
		}
		close(start)
		wg.Wait()

		for i, name := range results {
			if name != "*oncez.namedThing" {
				t.Fatalf("caller %d got %q", i, name)
			}
		}
	})
}
