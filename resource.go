package traybridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ResourceID is an opaque identifier of an object owned by the host.
type ResourceID uint32

// Resource is a handle to an object living in the host process. The host
// owns the object; Resource only references it by id.
type Resource struct {
	rid    ResourceID
	inv    Invoker
	closed atomic.Bool
}

// NewResource returns a handle for rid issued by the host behind inv.
func NewResource(inv Invoker, rid ResourceID) *Resource {
	return &Resource{
		rid: rid,
		inv: inv,
	}
}

// RID returns the host-assigned id of the resource.
func (r *Resource) RID() ResourceID {
	return r.rid
}

// Closed reports whether the resource was closed through this handle.
func (r *Resource) Closed() bool {
	return r.closed.Load()
}

// Close asks the host to release the resource.
//
// Closing a resource twice returns an error matching [ErrStaleHandle]. The
// resource is closed once the host released it or reported it stale; after
// any other failure it stays open and Close may be retried.
func (r *Resource) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("close resource %d: %w", r.rid, ErrStaleHandle)
	}

	err := r.inv.Invoke(ctx, CommandCloseResource, ridArgs{RID: r.rid}, nil)
	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrStaleHandle) {
		r.closed.Store(false)
	}

	return fmt.Errorf("close resource %d: %w", r.rid, err)
}
