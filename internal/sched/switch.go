package sched

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"blksched/internal/errors"
)

// SwitchPolicy replaces the queue's active scheduling policy with the named
// one, atomically from the point of view of producers and the consumer: a
// failure at any step leaves the old policy fully functional and no request
// is lost. Switching to the already-active policy is a no-op success.
func (q *Queue) SwitchPolicy(name string) error {
	t, ok := Lookup(name)
	if !ok {
		return errors.NewPolicyError(errors.ErrCodePolicyNotFound,
			fmt.Sprintf("policy %q not registered", name),
			"Run 'blksched policies' to list registered policies")
	}

	q.mu.Lock()
	if q.policyType.Name == name {
		q.mu.Unlock()
		return nil
	}
	if q.switching {
		q.mu.Unlock()
		return errors.NewSchedError(errors.ErrCodeSwitchBlocked,
			"another policy switch is in progress")
	}
	q.mu.Unlock()

	// Allocate and initialize the replacement before touching the old
	// policy: a failed init must leave the queue untouched.
	newPol, err := t.New(q)
	if err != nil {
		return errors.NewPolicyError(errors.ErrCodePolicyInit,
			fmt.Sprintf("policy %q failed to initialize", name), "").WithCause(err)
	}

	q.mu.Lock()
	if q.switching {
		q.mu.Unlock()
		newPol.Exit()
		return errors.NewSchedError(errors.ErrCodeSwitchBlocked,
			"another policy switch is in progress")
	}
	q.switching = true
	q.drainLocked()

	// Requests allocated under the old policy may still be queued or in
	// flight. Run the consumer, back off, redrain, until they are gone.
	// The lock is always dropped before sleeping so the consumer strategy
	// we are waiting on can make progress.
	retry := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(q.switchRetryInterval),
		uint64(q.switchMaxRetries))
	for q.elvPriv > 0 {
		q.unplugLocked()
		q.mu.Unlock()
		q.kick()
		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			q.mu.Lock()
			q.switching = false
			q.mu.Unlock()
			newPol.Exit()
			return errors.NewSchedError(errors.ErrCodeSwitchFailed,
				fmt.Sprintf("switch to %q failed: old policy requests did not drain", name))
		}
		time.Sleep(wait)
		q.mu.Lock()
		q.drainLocked()
	}

	old := q.policy
	oldType := q.policyType
	q.policy = newPol
	q.policyType = t
	q.mu.Unlock()

	if q.endpoints != nil {
		q.endpoints.Unregister(q.name, old)
		if err := q.endpoints.Register(q.name, newPol); err != nil {
			// Reattach the old policy along with its endpoint.
			q.mu.Lock()
			q.policy = old
			q.policyType = oldType
			q.switching = false
			q.mu.Unlock()
			newPol.Exit()
			if rerr := q.endpoints.Register(q.name, old); rerr != nil {
				q.log.Error("failed to re-register old policy endpoint",
					"queue", q.name, "policy", oldType.Name, "error", rerr)
			}
			return errors.NewSchedError(errors.ErrCodeSwitchFailed,
				fmt.Sprintf("switch to %q failed at endpoint registration", name)).WithCause(err)
		}
	}

	old.Exit()
	q.mu.Lock()
	q.switching = false
	q.mu.Unlock()

	q.log.Info("io scheduler switched", "queue", q.name, "policy", name)
	q.kick()
	return nil
}
