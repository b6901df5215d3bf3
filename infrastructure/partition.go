// infrastructure/partition.go
package infrastructure

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultTopic      = "video-processing-queue"
	DefaultPartitions = 3
)

// PartitionFor maps a video id onto one of n partitions. Brokers without
// native keyed partitioning use it so every job for a video lands on the same
// queue.
func PartitionFor(videoID string, n int) int32 {
	if n <= 1 {
		return 0
	}
	return int32(xxhash.Sum64String(videoID) % uint64(n))
}

// partitionName is the queue or subject suffix used for partition p.
func partitionName(topic string, p int32) string {
	return fmt.Sprintf("%s.%d", topic, p)
}
