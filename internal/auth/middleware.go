package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Require は保護対象ルート用のミドルウェアを返します。
// X-API-Token が一致すればそのまま通し、そうでなければログインセッションと
// 状態変更系メソッドの CSRF トークンを検証します。認証が無効な場合は何もしません。
func (m *Manager) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if m.checkToken(c.GetHeader(apiTokenHeader)) {
			c.Set(ContextUserKey, tokenPrincipal)
			c.Next()
			return
		}
		if m.username == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "API トークンが必要です")
			return
		}

		user, ok := m.validateSession(c)
		if !ok {
			return
		}
		if !isSafeMethod(c.Request.Method) && !verifyCSRF(c) {
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// validateSession はセッションの有効期限と無操作時間を確認し、最終操作時刻を更新します。
// 失敗した場合はレスポンスを書き込んで false を返します。
func (m *Manager) validateSession(c *gin.Context) (string, bool) {
	session := sessions.Default(c)
	user, ok := session.Get(sessionKeyUser).(string)
	if !ok || user == "" {
		abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です")
		return "", false
	}

	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	switch {
	case issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime:
		session.Clear()
		_ = session.Save()
		abort(c, http.StatusUnauthorized, "SESSION_EXPIRED", "セッションの有効期限が切れました")
		return "", false
	case lastActive.IsZero() || now.Sub(lastActive) > idleTimeout:
		session.Clear()
		_ = session.Save()
		abort(c, http.StatusUnauthorized, "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください")
		return "", false
	}

	session.Set(sessionKeyLastActive, now.Unix())
	_ = session.Save()
	return user, true
}

func verifyCSRF(c *gin.Context) bool {
	session := sessions.Default(c)
	expected, ok := session.Get(sessionKeyCSRF).(string)
	if !ok || expected == "" {
		abort(c, http.StatusForbidden, "CSRF_MISSING", "CSRF トークンが設定されていません")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(c.GetHeader(csrfHeader))) != 1 {
		abort(c, http.StatusForbidden, "CSRF_INVALID", "CSRF トークンが一致しません")
		return false
	}
	return true
}
