// Package gputest is an in-memory implementation of the gpu interfaces. It
// simulates queue execution, fences, semaphores and swapchain images, counts
// live objects and records every synchronization or ownership violation it
// observes, much like a validation layer would.
package gputest

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type object struct {
	id     uuid.UUID
	kind   string
	parent *object
	// refs are objects that must outlive this one without owning it.
	refs  []*object
	alive bool
}

func (o *object) String() string {
	return fmt.Sprintf("%s(%s)", o.kind, o.id.String()[:8])
}

type tracker struct {
	mu         sync.Mutex
	objects    []*object
	violations []string
}

func (t *tracker) create(kind string, parent *object, refs ...*object) *object {
	if parent != nil && !parent.alive {
		t.violate("%s created from destroyed %s", kind, parent)
	}
	o := &object{id: uuid.New(), kind: kind, parent: parent, refs: refs, alive: true}
	t.objects = append(t.objects, o)
	return o
}

// destroy marks o dead, reporting double destruction and live dependents.
func (t *tracker) destroy(o *object) bool {
	if !o.alive {
		t.violate("%s destroyed twice", o)
		return false
	}
	for _, c := range t.objects {
		if !c.alive || c == o {
			continue
		}
		if c.parent == o {
			t.violate("%s destroyed while child %s is alive", o, c)
		}
		for _, r := range c.refs {
			if r == o {
				t.violate("%s destroyed while %s still depends on it", o, c)
			}
		}
	}
	o.alive = false
	return true
}

func (t *tracker) use(o *object, what string) bool {
	if !o.alive {
		t.violate("%s used after destruction (%s)", o, what)
		return false
	}
	return true
}

func (t *tracker) violate(format string, args ...interface{}) {
	t.violations = append(t.violations, fmt.Sprintf(format, args...))
}

func (t *tracker) live(except *object) int {
	n := 0
	for _, o := range t.objects {
		if o.alive && o != except {
			n++
		}
	}
	return n
}

func (t *tracker) liveKinds(except *object) map[string]int {
	kinds := map[string]int{}
	for _, o := range t.objects {
		if o.alive && o != except {
			kinds[o.kind]++
		}
	}
	return kinds
}
