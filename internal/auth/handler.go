package auth

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は /auth/login のハンドラーです。成功時は CSRF トークンを X-CSRF-Token ヘッダーで返します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_INPUT", "username と password を JSON で送ってください")
		return
	}
	if err := m.loginConfigured(); err != nil {
		abort(c, http.StatusNotImplemented, "LOGIN_DISABLED", err.Error())
		return
	}

	ip := c.ClientIP()
	if wait := m.limiter.lockedFor(ip); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		abort(c, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "一定時間後に再度お試しください")
		return
	}

	if !m.checkCredentials(req.Username, req.Password) {
		remaining := m.limiter.fail(ip)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}
	m.limiter.reset(ip)

	token, err := generateToken()
	if err != nil {
		abort(c, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "CSRF トークンの生成に失敗しました")
		return
	}

	now := m.now().Unix()
	session := sessions.Default(c)
	session.Set(sessionKeyUser, m.username)
	session.Set(sessionKeyIssuedAt, now)
	session.Set(sessionKeyLastActive, now)
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		abort(c, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの保存に失敗しました")
		return
	}

	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		abort(c, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの削除に失敗しました")
		return
	}
	c.Status(http.StatusNoContent)
}
