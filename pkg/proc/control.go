// Package proc implements thread run control on top of the target tree:
// start, stop, step, sreset, thread status, register dumps and stack
// unwinding.
package proc

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/logflags"
	"github.com/open-power/pdbg/pkg/target"
)

// Controller runs thread commands against a backend.
type Controller struct {
	tree   *target.Tree
	bknd   backend.Backend
	policy StackPolicy
	log    logflags.Logger
}

// New returns a controller for the given tree. The tree's prober is
// expected to be b, or to wrap it.
func New(tree *target.Tree, b backend.Backend, policy StackPolicy) *Controller {
	return &Controller{tree: tree, bknd: b, policy: policy, log: logflags.ProcLogger()}
}

// Tree returns the target tree the controller works on.
func (c *Controller) Tree() *target.Tree { return c.tree }

// StepOptions are the arguments of the step command.
type StepOptions struct {
	// Count is the number of instructions to execute.
	Count int
}

var errNegativeSteps = errors.New("step count must not be negative")

// ErrNoTargets is reported by commands that found nothing to act on.
var ErrNoTargets = errors.New("No valid targets found or specified. Try adding -p/-c/-t options to specify a target.")

// forEachEnabledThread calls fn on every enabled thread of the active path
// and returns how many it was called on. Failures do not stop the
// traversal and still count; they are returned together.
func (c *Controller) forEachEnabledThread(op string, fn func(t *target.Target) error) (int, error) {
	var result *multierror.Error
	count := 0
	c.tree.ForEachOnActivePath(target.ClassThread, func(t *target.Target, _ int) target.Action {
		if t.Status() != target.StatusEnabled {
			return target.Continue
		}
		c.log.Debugf("%s %s", op, t)
		if err := fn(t); err != nil {
			c.log.WithTarget(t).WithError(err).Warnf("%s failed", op)
			result = multierror.Append(result, fmt.Errorf("%s %s: %w", op, t, err))
		}
		count++
		return target.Continue
	})
	return count, result.ErrorOrNil()
}

// Start resumes every enabled thread on the active path.
func (c *Controller) Start() (int, error) {
	return c.forEachEnabledThread("start", c.bknd.StartThread)
}

// Stop quiesces every enabled thread on the active path.
func (c *Controller) Stop() (int, error) {
	return c.forEachEnabledThread("stop", c.bknd.StopThread)
}

// Step executes opts.Count instructions on every enabled thread on the
// active path.
func (c *Controller) Step(opts StepOptions) (int, error) {
	if opts.Count < 0 {
		return 0, errNegativeSteps
	}
	return c.forEachEnabledThread("step", func(t *target.Target) error {
		return c.bknd.StepThread(t, opts.Count)
	})
}

// SReset sends a system reset to every enabled thread on the active path.
func (c *Controller) SReset() (int, error) {
	return c.forEachEnabledThread("sreset", c.bknd.SResetThread)
}
