package service

import (
	"hash/fnv"
	"sync"
)

// lockStripes 分段数, 2 的幂
const lockStripes = 64

// SessionLocker serializes orchestration per session id. Two concurrent
// messages for the same session take the same stripe, so one request's state
// transition is fully committed before the other begins. Striping bounds
// memory: the map of live sessions never needs per-session lock lifecycle.
type SessionLocker struct {
	stripes [lockStripes]sync.Mutex
}

// NewSessionLocker 创建会话锁
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{}
}

// Lock 获取会话对应的条带锁
func (l *SessionLocker) Lock(sessionID string) {
	l.stripes[stripeFor(sessionID)].Lock()
}

// Unlock 释放会话对应的条带锁
func (l *SessionLocker) Unlock(sessionID string) {
	l.stripes[stripeFor(sessionID)].Unlock()
}

func stripeFor(sessionID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return h.Sum32() & (lockStripes - 1)
}
