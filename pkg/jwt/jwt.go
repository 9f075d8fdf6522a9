package jwt

import (
	"errors"
	"fmt"
	"time"

	"freight-chat/config"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// 令牌类型，写入 Data["typ"]
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrWrongTokenType 令牌类型不符（例如用刷新令牌访问接口）
var ErrWrongTokenType = errors.New("wrong token type")

// JWTService 提供 JWT 生成与校验能力
// 使用对称密钥 HS256
// 仅存放不可逆的用户标识（例如用户ID）在 Subject
// 其他非敏感信息可放入 Data

type JWTService struct {
	secretKey     []byte        // 对称密钥
	issuer        string        // 签发者
	expireAfter   time.Duration // 访问令牌过期时间
	refreshExpire time.Duration // 刷新令牌过期时间
}

// CustomClaims 自定义声明载荷
// Data 用于扩展非敏感业务字段

type CustomClaims struct {
	Data map[string]interface{} `json:"data,omitempty"`
	jwtv5.RegisteredClaims
}

// TokenType 返回令牌类型，旧令牌没有 typ 时视为访问令牌
func (c *CustomClaims) TokenType() string {
	if t, ok := c.Data["typ"].(string); ok {
		return t
	}
	return TokenTypeAccess
}

// TokenPair 访问令牌 + 刷新令牌
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"` // 访问令牌有效期（毫秒）
}

// NewJWTService 创建 JWT 服务
func NewJWTService(cfg config.JWTConfig) *JWTService {
	refresh := cfg.RefreshExpireTime
	if refresh <= 0 {
		refresh = 30 * 24 * time.Hour
	}
	return &JWTService{
		secretKey:     []byte(cfg.Secret),
		issuer:        cfg.Issuer,
		expireAfter:   cfg.ExpireTime,
		refreshExpire: refresh,
	}
}

// GenerateToken 生成访问令牌
// userID 作为 Subject 存入标准声明
// extraData 将写入 Data 字段（仅存放非敏感信息）
func (s *JWTService) GenerateToken(userID string, extraData map[string]interface{}) (string, error) {
	data := map[string]interface{}{"typ": TokenTypeAccess}
	for k, v := range extraData {
		data[k] = v
	}
	return s.sign(userID, data, s.expireAfter)
}

// GeneratePair 同时生成访问令牌和刷新令牌
func (s *JWTService) GeneratePair(userID string) (*TokenPair, error) {
	access, err := s.GenerateToken(userID, nil)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, map[string]interface{}{"typ": TokenTypeRefresh}, s.refreshExpire)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Expires:      s.expireAfter.Milliseconds(),
	}, nil
}

func (s *JWTService) sign(userID string, data map[string]interface{}, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("userID is required")
	}

	now := time.Now()
	claims := &CustomClaims{
		Data: data,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token failed: %w", err)
	}
	return signed, nil
}

// ValidateToken 校验访问令牌
// 返回解析出的自定义声明（包含 Subject 和 Data）
func (s *JWTService) ValidateToken(tokenString string) (*CustomClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType() != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ValidateRefreshToken 校验刷新令牌
func (s *JWTService) ValidateRefreshToken(tokenString string) (*CustomClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType() != TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string) (*CustomClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token is empty")
	}
	claims := &CustomClaims{}
	parsedToken, err := jwtv5.ParseWithClaims(
		tokenString,
		claims,
		// 验证签名方法
		func(token *jwtv5.Token) (interface{}, error) {
			if token.Method != jwtv5.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secretKey, nil
		},
		// 验证签发者
		jwtv5.WithIssuer(s.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token failed: %w", err)
	}
	if !parsedToken.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
