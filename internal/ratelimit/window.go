// Package ratelimit は固定ウィンドウ方式のリクエストカウンタを提供する。
// 上流APIクライアント（送信側）と受信側ミドルウェアの両方で利用する。
package ratelimit

import (
	"sync"
	"time"
)

// Decision は1回の判定結果を表す。
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// window は1つのキーに対応するカウンタ。
// countとresetAtはプロセス再起動をまたいで保持しない。
type window struct {
	count   int
	resetAt time.Time
}

// allow はnow時点での判定を行い、許可した場合はカウントを進める。
// nowがresetAtを過ぎていればカウントを0に戻して新しいウィンドウを開始する。
func (w *window) allow(now time.Time, max int, size time.Duration) Decision {
	if now.After(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(size)
	}

	if w.count >= max {
		return Decision{Allowed: false, Limit: max, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Decision{Allowed: true, Limit: max, Remaining: max - w.count, ResetAt: w.resetAt}
}

// FixedWindow は単一カウンタの固定ウィンドウレートリミッター。
// 1インスタンスにつき1ウィンドウを持ち、mutexで直列化する。
type FixedWindow struct {
	max  int
	size time.Duration
	now  func() time.Time

	mu sync.Mutex
	w  window
}

// NewFixedWindow は新しいFixedWindowを生成する。
// ウィンドウは最初のAllow呼び出し時に開始される。
func NewFixedWindow(max int, size time.Duration) *FixedWindow {
	return &FixedWindow{max: max, size: size, now: time.Now}
}

// Allow はリクエストを1件許可できるか判定する。
func (f *FixedWindow) Allow() Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.allow(f.now(), f.max, f.size)
}

// SetClock は時刻取得関数を差し替える。テスト用。
func (f *FixedWindow) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// KeyedWindow は呼び出し元キー（IPアドレス等）ごとの固定ウィンドウを管理する。
// 期限切れのエントリはAllow呼び出しのたびに削除し、バックグラウンドでの掃除は行わない。
type KeyedWindow struct {
	max  int
	size time.Duration
	now  func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewKeyedWindow は新しいKeyedWindowを生成する。
func NewKeyedWindow(max int, size time.Duration) *KeyedWindow {
	return &KeyedWindow{
		max:     max,
		size:    size,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow はkeyのリクエストを1件許可できるか判定する。
func (k *KeyedWindow) Allow(key string) Decision {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()

	// 期限切れエントリの削除
	for ck, w := range k.windows {
		if now.After(w.resetAt) {
			delete(k.windows, ck)
		}
	}

	w, ok := k.windows[key]
	if !ok {
		w = &window{}
		k.windows[key] = w
	}
	return w.allow(now, k.max, k.size)
}

// Len は現在保持しているエントリ数を返す。テストおよびメトリクス用。
func (k *KeyedWindow) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}

// SetClock は時刻取得関数を差し替える。テスト用。
func (k *KeyedWindow) SetClock(now func() time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = now
}
