package sync

import gosync "sync"

// Entry is one entry line of the manifest
type Entry struct {
	Path   string `json:"path"`   // workspace-relative, as written in the manifest
	Exists bool   `json:"exists"` // whether the file is present on disk
}

// keyedMutex serializes read-modify-write cycles per manifest path
type keyedMutex struct {
	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*gosync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &gosync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
