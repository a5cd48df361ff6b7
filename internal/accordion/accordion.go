package accordion

import "sync"

// Controller tracks the single expanded widget section. The zero value has
// nothing expanded and is ready to use.
type Controller struct {
	mu       sync.Mutex
	expanded string
}

// Toggle collapses id if it is open, otherwise opens it and closes whatever
// was open. It returns the section expanded afterwards, or "".
func (c *Controller) Toggle(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" || c.expanded == id {
		c.expanded = ""
	} else {
		c.expanded = id
	}
	return c.expanded
}

func (c *Controller) Expanded() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expanded
}

func (c *Controller) IsExpanded(id string) bool {
	return id != "" && c.Expanded() == id
}

func (c *Controller) Collapse() {
	c.mu.Lock()
	c.expanded = ""
	c.mu.Unlock()
}
