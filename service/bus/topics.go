package bus

import (
	"fmt"
	"hash/crc32"
)

const topicPattern = "im.events-%02d"

// GenTopics lists the N sharded bus topics: im.events-00, im.events-01, ...
func GenTopics(count int) []string {
	if count <= 0 {
		count = 1
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, fmt.Sprintf(topicPattern, i))
	}
	return out
}

// SelectTopic pins a target id to one topic so per-target events keep
// their relative order.
func SelectTopic(target string, topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(target))
	return topics[int(h%uint32(len(topics)))]
}
