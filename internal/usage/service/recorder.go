package service

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/usage/domain"
)

const shardCount = 16

type bucketKey struct {
	tenantID snowflake.ID
	endpoint string
	minute   int64
}

type bucketAgg struct {
	calls        int64
	bytes        int64
	errors       int64
	latencyMSSum int64
	latencyMSMax int64
}

type shard struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucketAgg
}

// recorder aggregates samples into per-minute buckets across a fixed set
// of locked shards, so concurrent writers rarely contend on the same lock.
type recorder struct {
	shards [shardCount]*shard
}

func newRecorder() *recorder {
	r := &recorder{}
	for i := range r.shards {
		r.shards[i] = &shard{buckets: make(map[bucketKey]*bucketAgg)}
	}
	return r
}

func (r *recorder) add(sample domain.Sample) {
	key := bucketKey{
		tenantID: sample.TenantID,
		endpoint: sample.Endpoint,
		minute:   sample.At.UTC().Truncate(time.Minute).Unix(),
	}

	s := r.shards[shardFor(key)]
	s.mu.Lock()
	agg, ok := s.buckets[key]
	if !ok {
		agg = &bucketAgg{}
		s.buckets[key] = agg
	}
	agg.calls++
	agg.bytes += sample.Bytes
	if sample.StatusCode >= 500 {
		agg.errors++
	}
	agg.latencyMSSum += sample.LatencyMS
	if sample.LatencyMS > agg.latencyMSMax {
		agg.latencyMSMax = sample.LatencyMS
	}
	s.mu.Unlock()
}

// drain removes and returns every bucket whose minute closed before the
// cutoff. Open buckets stay in place.
func (r *recorder) drain(cutoff time.Time) map[bucketKey]bucketAgg {
	boundary := cutoff.UTC().Truncate(time.Minute).Unix()
	out := make(map[bucketKey]bucketAgg)
	for _, s := range r.shards {
		s.mu.Lock()
		for key, agg := range s.buckets {
			if key.minute < boundary {
				out[key] = *agg
				delete(s.buckets, key)
			}
		}
		s.mu.Unlock()
	}
	return out
}

// pending sums the still-unflushed usage for one tenant.
func (r *recorder) pending(tenantID snowflake.ID) domain.Usage {
	var usage domain.Usage
	for _, s := range r.shards {
		s.mu.Lock()
		for key, agg := range s.buckets {
			if key.tenantID == tenantID {
				usage.Calls += agg.calls
				usage.Bytes += agg.bytes
			}
		}
		s.mu.Unlock()
	}
	return usage
}

func shardFor(key bucketKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.tenantID.String()))
	_, _ = h.Write([]byte(key.endpoint))
	return int(h.Sum32() % shardCount)
}
