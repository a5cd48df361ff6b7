package accordion

import (
	"fmt"
	"sync"
	"testing"
)

func TestToggle(t *testing.T) {
	var c Controller
	if got := c.Toggle("weather"); got != "weather" {
		t.Fatalf("Toggle(weather) = %q", got)
	}
	if got := c.Toggle("calendar"); got != "calendar" {
		t.Fatalf("Toggle(calendar) = %q", got)
	}
	if c.IsExpanded("weather") {
		t.Fatal("weather still expanded")
	}
	if got := c.Toggle("calendar"); got != "" {
		t.Fatalf("Toggle(calendar) again = %q, want collapsed", got)
	}
	c.Toggle("meals")
	c.Collapse()
	if c.Expanded() != "" {
		t.Fatalf("Expanded() = %q after Collapse", c.Expanded())
	}
}

func TestToggleConcurrentKeepsAtMostOne(t *testing.T) {
	var c Controller
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Toggle(fmt.Sprintf("section-%d", i%5))
		}(i)
	}
	wg.Wait()

	open := 0
	for i := 0; i < 5; i++ {
		if c.IsExpanded(fmt.Sprintf("section-%d", i)) {
			open++
		}
	}
	if open > 1 {
		t.Fatalf("%d sections expanded", open)
	}
}
