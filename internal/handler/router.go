package handler

import (
	"freight-chat/pkg/jwt"
	"freight-chat/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps 后端接口依赖
type Deps struct {
	DB        *gorm.DB
	Store     store.Store
	JWT       *jwt.JWTService
	UploadDir string
}

// Mount 注册 /auth、/items 与 /files 路由
// 除 /auth 外均需 JWT 认证
func Mount(r gin.IRouter, d Deps) {
	NewAuthHandler(d.DB, d.JWT).Register(r)

	protected := r.Group("/")
	protected.Use(d.JWT.AuthMiddleware())
	NewItemsHandler(d.Store).Register(protected)
	protected.POST("/files", NewFilesHandler(d.Store, d.UploadDir).Upload)
}
