package api

import "github.com/gin-gonic/gin"

// RegisterRoutes はルートを登録します。protect は /health と /auth 以外に適用されます。
// 同じハンドラーを旧 Web UI 向けに /api 配下にも登録します。
func RegisterRoutes(router gin.IRouter, h *Handler, protect ...gin.HandlerFunc) {
	router.GET("/health", h.Health)

	root := router.Group("", protect...)
	{
		root.POST("/submit", h.Submit)
		root.GET("/status/:id", h.Status)
		root.GET("/download/:id", h.Download)
		root.GET("/jobs", h.List)
		root.POST("/cancel/:id", h.Cancel)
	}

	legacy := router.Group("/api", protect...)
	{
		legacy.POST("/scrape", h.Submit)
		legacy.GET("/status/:id", h.Status)
		legacy.GET("/download/:id", h.Download)
		legacy.GET("/jobs", h.List)
		legacy.POST("/cancel/:id", h.Cancel)
	}
}

// RegisterAuthRoutes はログイン・ログアウトを /auth と /api/auth に登録します。
func RegisterAuthRoutes(router gin.IRouter, login, logout gin.HandlerFunc, protect ...gin.HandlerFunc) {
	for _, prefix := range []string{"/auth", "/api/auth"} {
		group := router.Group(prefix)
		// ログイン時はセッション未生成なので CSRF 検証は不要
		group.POST("/login", login)
		group.POST("/logout", append(append([]gin.HandlerFunc{}, protect...), logout)...)
	}
}
