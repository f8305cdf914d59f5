package target

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Lease stands for the per-command use of every target of one class. It
// must be released once the command is done, on every exit path; releasing
// more than once has no further effect.
//
//	lease := tree.Acquire(target.ClassThread)
//	defer lease.Release()
type Lease struct {
	tree  *Tree
	class string
	once  sync.Once
	err   error
}

// Acquire returns a lease on the targets of the given class.
func (tr *Tree) Acquire(class string) *Lease {
	return &Lease{tree: tr, class: class}
}

// Class returns the class the lease was acquired for.
func (l *Lease) Class() string { return l.class }

// Release hands every enabled target of the class back to the prober, if
// it implements Releaser. Errors are collected and returned, the first
// call's result is returned again by later calls.
func (l *Lease) Release() error {
	l.once.Do(func() {
		rel, ok := l.tree.prober.(Releaser)
		if !ok {
			return
		}
		var result *multierror.Error
		l.tree.ForEachOfClass(l.class, func(t *Target, _ int) Action {
			if err := rel.Release(t); err != nil {
				l.tree.log.WithTarget(t).WithError(err).Warnf("release failed")
				result = multierror.Append(result, err)
			}
			return Continue
		})
		l.err = result.ErrorOrNil()
	})
	return l.err
}
