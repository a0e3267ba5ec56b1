package auth

import (
	"sync"
	"time"
)

const (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// loginLimiter はクライアント IP ごとのログイン失敗回数を数え、上限に達したら一定時間ロックします。
type loginLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptState
	now      func() time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		attempts: make(map[string]*attemptState),
		now:      time.Now,
	}
}

// lockedFor はロック解除までの残り時間を返します。ロックされていなければ 0 です。
func (l *loginLimiter) lockedFor(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.attempts[ip]
	if !ok {
		return 0
	}
	remaining := state.lockedUntil.Sub(l.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// fail は失敗を記録し、ロックまでの残り試行回数を返します。
func (l *loginLimiter) fail(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		l.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.count = maxLoginAttempts
		state.lockedUntil = now.Add(lockDuration)
	}
	return maxLoginAttempts - state.count
}

func (l *loginLimiter) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, ip)
}
