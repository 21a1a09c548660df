package watch

type change int

const (
	changeCreated change = iota + 1
	changeDeleted
)

// batch accumulates events for one debounce window, keyed by path. Only the
// first event per path is kept; the file's presence when the window closes
// decides the outcome.
type batch struct {
	order []string
	first map[string]change
}

func newBatch() *batch {
	return &batch{first: make(map[string]change)}
}

func (b *batch) created(path string) { b.add(path, changeCreated) }
func (b *batch) deleted(path string) { b.add(path, changeDeleted) }

func (b *batch) add(path string, c change) {
	if _, seen := b.first[path]; seen {
		return
	}
	b.first[path] = c
	b.order = append(b.order, path)
}

// settle resolves the window:
//
//	created, still there  -> created
//	created, gone again   -> nothing
//	deleted, back again   -> nothing (replaced in place, e.g. an atomic save)
//	deleted, still gone   -> deleted
func (b *batch) settle(exists func(string) bool) (created, deleted []string) {
	for _, path := range b.order {
		present := exists(path)
		switch b.first[path] {
		case changeCreated:
			if present {
				created = append(created, path)
			}
		case changeDeleted:
			if !present {
				deleted = append(deleted, path)
			}
		}
	}
	return created, deleted
}
