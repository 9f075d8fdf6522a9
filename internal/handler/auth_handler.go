package handler

import (
	"errors"

	"freight-chat/internal/model"
	"freight-chat/pkg/jwt"
	"freight-chat/pkg/logger"
	"freight-chat/pkg/password"
	"freight-chat/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AuthHandler struct {
	db  *gorm.DB
	jwt *jwt.JWTService
}

func NewAuthHandler(db *gorm.DB, jwtSvc *jwt.JWTService) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwtSvc}
}

// Register 注册 /auth 路由（无需认证）
func (h *AuthHandler) Register(r gin.IRouter) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
}

// Login 邮箱 + 密码登录，返回访问令牌与刷新令牌
func (h *AuthHandler) Login(c *gin.Context) {
	type req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var user model.User
	err := h.db.WithContext(c.Request.Context()).Where("email = ?", r.Email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		response.InternalError(c, "查询用户失败", err)
		return
	}
	if err != nil || user.PasswordHash == "" || !password.Verify(r.Password, user.PasswordHash) {
		logger.Warn("登录失败", zap.String("email", r.Email), zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "邮箱或密码错误")
		return
	}

	pair, err := h.jwt.GeneratePair(user.ID)
	if err != nil {
		response.InternalError(c, "生成令牌失败", err)
		return
	}
	logger.Info("用户登录", zap.String("user_id", user.ID))
	response.Success(c, pair)
}

// Refresh 用刷新令牌换取新的令牌对，旧刷新令牌随之轮换
func (h *AuthHandler) Refresh(c *gin.Context) {
	type req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
		Mode         string `json:"mode"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	claims, err := h.jwt.ValidateRefreshToken(r.RefreshToken)
	if err != nil {
		logger.Warn("刷新令牌无效", zap.Error(err), zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "刷新令牌无效或已过期")
		return
	}
	pair, err := h.jwt.GeneratePair(claims.Subject)
	if err != nil {
		response.InternalError(c, "生成令牌失败", err)
		return
	}
	response.Success(c, pair)
}
