package download

// Hooks provide optional callbacks for persistence / external tracking.
// Implementations should be fast; Manager invokes them from its callback
// dispatcher in the order events happened, never under the manager lock.
type Hooks interface {
	OnProgress(id string, progress float64)
	OnStateChange(item Item)
}

// MultiHooks fans events out to several Hooks.
type MultiHooks []Hooks

func (mh MultiHooks) OnProgress(id string, progress float64) {
	for _, h := range mh {
		if h != nil {
			h.OnProgress(id, progress)
		}
	}
}

func (mh MultiHooks) OnStateChange(item Item) {
	for _, h := range mh {
		if h != nil {
			h.OnStateChange(item)
		}
	}
}
