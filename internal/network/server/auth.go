package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity 握手确定的玩家身份
type Identity struct {
	UserID   string
	Username string
	Guest    bool
}

// identityClaims 握手令牌的自定义声明
type identityClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

var errInvalidToken = errors.New("invalid token")

// Authenticator 握手身份解析。带有效令牌的请求恢复原有身份，
// 其余请求发放一次性访客身份，重连凭令牌找回同一个用户 ID。
type Authenticator struct {
	secret []byte
}

// NewAuthenticator 创建身份解析器。secret 为空时只发放访客身份。
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Identify 从请求解析身份。令牌缺失或无效都降级为新访客，
// 握手永远不会因为身份问题失败。
func (a *Authenticator) Identify(r *http.Request) Identity {
	token := bearerToken(r)
	if token != "" && len(a.secret) > 0 {
		if id, err := a.verify(token); err == nil {
			return id
		}
	}
	return Identity{
		UserID:   uuid.New().String(),
		Username: GenerateNickname(),
		Guest:    true,
	}
}

// verify 校验令牌并取出身份
func (a *Authenticator) verify(token string) (Identity, error) {
	var claims identityClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, errInvalidToken
	}
	if claims.UserID == "" {
		return Identity{}, errInvalidToken
	}
	username := claims.Username
	if username == "" {
		username = GenerateNickname()
	}
	return Identity{UserID: claims.UserID, Username: username}, nil
}

// bearerToken 从 Authorization 头或 token 查询参数取令牌。
// 浏览器的 WebSocket API 不支持自定义头，所以必须兼容查询参数。
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("token")
}
