package filen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/types"
)

// Defaults for advisory lock acquisition.
const (
	LockMaxSleepDefault = 30 * time.Second
	LockAttemptsDefault = 2880

	lockRenewInterval = 15 * time.Second
)

// Well-known resource names guarded by server locks.
const (
	LockResourceDrive = "drive-write"
	LockResourceNotes = "notes-write"
	LockResourceChats = "chats-write"
	LockResourceAuth  = "auth"
)

// ResourceLock is a held server-side advisory lock. A background task
// renews the lease until Release is called; Release is best-effort and
// safe to call more than once.
type ResourceLock struct {
	client   *Client
	resource string
	uuid     string

	releaseOnce sync.Once
	stopRenew   chan struct{}
	renewDone   chan struct{}
}

// Resource returns the name this lock guards.
func (l *ResourceLock) Resource() string { return l.resource }

// sharedLock refcounts one server-side lock shared by all callers in
// this process asking for the same resource name.
type sharedLock struct {
	lock *ResourceLock
	refs int
}

// AcquireLock polls the server until the named resource lock is
// granted, sleeping with exponential backoff bounded by maxSleep
// between attempts. After attempts failures it gives up with ErrLocked.
func (c *Client) AcquireLock(ctx context.Context, resource string, maxSleep time.Duration, attempts int) (*ResourceLock, error) {
	c.locksMu.Lock()
	if shared, ok := c.locks[resource]; ok {
		shared.refs++
		c.locksMu.Unlock()
		return shared.lock, nil
	}
	c.locksMu.Unlock()

	acquireUUID := types.NewUUID()
	sleep := time.Second
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if sleep > maxSleep {
				sleep = maxSleep
			}
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			sleep *= 2
		}

		resp, err := client.PostAuthed[types.LockResponse](ctx, c.api, "user/lock", types.LockRequest{
			UUID:     acquireUUID,
			Resource: resource,
			Type:     "acquire",
		})
		if err != nil {
			return nil, translateAPIError(err)
		}
		if !resp.Acquired {
			continue
		}

		lock := &ResourceLock{
			client:    c,
			resource:  resource,
			uuid:      acquireUUID,
			stopRenew: make(chan struct{}),
			renewDone: make(chan struct{}),
		}
		go lock.renewLoop()

		c.locksMu.Lock()
		c.locks[resource] = &sharedLock{lock: lock, refs: 1}
		c.locksMu.Unlock()
		return lock, nil
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrLocked, resource, attempts)
}

// AcquireLockDefault acquires with the default sleep bound and attempt
// budget.
func (c *Client) AcquireLockDefault(ctx context.Context, resource string) (*ResourceLock, error) {
	return c.AcquireLock(ctx, resource, LockMaxSleepDefault, LockAttemptsDefault)
}

// LockDrive guards drive mutations shared with other processes.
func (c *Client) LockDrive(ctx context.Context) (*ResourceLock, error) {
	return c.AcquireLockDefault(ctx, LockResourceDrive)
}

// LockAuth guards account key material mutations.
func (c *Client) LockAuth(ctx context.Context) (*ResourceLock, error) {
	return c.AcquireLockDefault(ctx, LockResourceAuth)
}

// renewLoop refreshes the lease until the lock is released.
func (l *ResourceLock) renewLoop() {
	defer close(l.renewDone)
	ticker := time.NewTicker(lockRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopRenew:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), lockRenewInterval)
			_, err := client.PostAuthed[types.LockResponse](ctx, l.client.api, "user/lock", types.LockRequest{
				UUID:     l.uuid,
				Resource: l.resource,
				Type:     "refresh",
			})
			cancel()
			if err != nil {
				l.client.logger.WithFields(logrus.Fields{
					"resource": l.resource,
					"error":    err.Error(),
				}).Warn("Failed to refresh resource lock")
			}
		}
	}
}

// Release drops this caller's reference; the server-side lock is
// released once the last reference in the process is gone. The release
// call is best-effort.
func (l *ResourceLock) Release() {
	c := l.client
	c.locksMu.Lock()
	shared, ok := c.locks[l.resource]
	if ok {
		shared.refs--
		if shared.refs > 0 {
			c.locksMu.Unlock()
			return
		}
		delete(c.locks, l.resource)
	}
	c.locksMu.Unlock()

	l.releaseOnce.Do(func() {
		close(l.stopRenew)
		<-l.renewDone
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := client.PostAuthed[types.LockResponse](ctx, c.api, "user/lock", types.LockRequest{
			UUID:     l.uuid,
			Resource: l.resource,
			Type:     "release",
		})
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"resource": l.resource,
				"error":    err.Error(),
			}).Warn("Failed to release resource lock")
		}
	})
}
