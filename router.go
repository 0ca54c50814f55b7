package dispatch

import (
	"hash/fnv"

	"github.com/coregx/dispatch/model"
)

// BucketRouter deterministically maps events to buckets. All events sharing
// a partition key (series id, falling back to subject, falling back to type)
// land in the same bucket and are therefore processed by the same
// single-threaded bucket manager in broker-delivery order.
//
// The bucket count is fixed at service start; changing it requires a restart
// since there is no live rebalancing.
type BucketRouter struct {
	buckets int
}

// NewBucketRouter creates a router over the given number of buckets.
func NewBucketRouter(buckets int) (*BucketRouter, error) {
	if buckets <= 0 {
		return nil, NewError(ErrCodeConfiguration, "bucket count must be > 0")
	}
	return &BucketRouter{buckets: buckets}, nil
}

// Buckets returns the configured bucket count.
func (r *BucketRouter) Buckets() int {
	return r.buckets
}

// Route returns the bucket index for an event: FNV-1a of the partition key
// modulo the bucket count.
func (r *BucketRouter) Route(ev model.Event) int {
	h := fnv.New32a()
	h.Write([]byte(ev.PartitionKey()))
	return int(h.Sum32() % uint32(r.buckets))
}
