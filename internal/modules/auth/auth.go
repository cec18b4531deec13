package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/middleware"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
	sessionpkg "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/session"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// loginFailureDelay slows down credential guessing. Applied on every
// failed attempt before the error returns.
var loginFailureDelay = 3 * time.Second

const tokenPrefix = "rfk"

var (
	ErrOperatorExists = errors.New("operator already registered")
	ErrBadCredentials = errors.New("invalid username or password")
	ErrTokenNotFound  = errors.New("api token not found")
)

type LoginDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterDTO struct {
	Username string `json:"username" binding:"required,min=3"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name"`
	Mail     string `json:"mail"`
}

type CreateTokenDTO struct {
	Name      string     `json:"name" binding:"required"`
	ExpiredAt *time.Time `json:"expiredAt"`
}

type loginResponse struct {
	Token    string       `json:"token"`
	Operator operatorView `json:"operator"`
}

type operatorView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type tokenResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Token     string     `json:"token"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
	Created   time.Time  `json:"created"`
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Register creates the operator account. Only the first registration
// succeeds; the platform is single-operator.
func (s *Service) Register(dto *RegisterDTO) (*models.OperatorModel, error) {
	var count int64
	if err := s.db.Model(&models.OperatorModel{}).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrOperatorExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	name := dto.Name
	if name == "" {
		name = dto.Username
	}
	op := models.OperatorModel{
		Username: dto.Username,
		Password: string(hash),
		Name:     name,
		Mail:     dto.Mail,
	}
	return &op, s.db.Create(&op).Error
}

// Login verifies credentials and issues a session-bound JWT. Failures
// pay the delay penalty so the endpoint is useless for guessing.
func (s *Service) Login(username, password, ip, ua string) (string, *models.OperatorModel, error) {
	var op models.OperatorModel
	if err := s.db.Where("username = ?", username).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			time.Sleep(loginFailureDelay)
			return "", nil, ErrBadCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.Password), []byte(password)); err != nil {
		time.Sleep(loginFailureDelay)
		return "", nil, ErrBadCredentials
	}

	token, _, err := sessionpkg.Issue(s.db, op.ID, ip, ua, sessionpkg.DefaultTTL)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	_ = s.db.Model(&models.OperatorModel{}).Where("id = ?", op.ID).
		Updates(map[string]interface{}{"last_login_time": now, "last_login_ip": ip}).Error

	return token, &op, nil
}

func (s *Service) Operator(operatorID string) (*models.OperatorModel, error) {
	var op models.OperatorModel
	if err := s.db.Where("id = ?", operatorID).First(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *Service) Sessions(operatorID string) ([]models.OperatorSession, error) {
	return sessionpkg.ListActive(s.db, operatorID)
}

func (s *Service) RevokeSession(operatorID, sessionID string) error {
	return sessionpkg.Revoke(s.db, operatorID, sessionID)
}

func (s *Service) RevokeOtherSessions(operatorID, keepSessionID string) error {
	return sessionpkg.RevokeAllExcept(s.db, operatorID, keepSessionID)
}

func (s *Service) ListTokens(operatorID string) ([]models.APIToken, error) {
	var tokens []models.APIToken
	return tokens, s.db.Where("operator_id = ? AND (expired_at IS NULL OR expired_at > ?)", operatorID, time.Now()).
		Order("created_at DESC").Find(&tokens).Error
}

func (s *Service) CreateToken(operatorID string, dto *CreateTokenDTO) (*models.APIToken, error) {
	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	t := models.APIToken{
		OperatorID: operatorID,
		Token:      value,
		Name:       dto.Name,
		ExpiredAt:  dto.ExpiredAt,
	}
	return &t, s.db.Create(&t).Error
}

func (s *Service) DeleteToken(operatorID, tokenID string) error {
	result := s.db.Where("id = ? AND operator_id = ?", tokenID, operatorID).
		Delete(&models.APIToken{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func newTokenValue() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(b), nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	a := rg.Group("/auth")

	a.POST("/register", h.register)
	a.POST("/login", h.login)
	a.GET("/profile", authMW, h.profile)

	sess := a.Group("/sessions", authMW)
	sess.GET("", h.listSessions)
	sess.DELETE("/:id", h.revokeSession)
	sess.DELETE("", h.revokeOtherSessions)

	tok := a.Group("/tokens", authMW)
	tok.GET("", h.listTokens)
	tok.POST("", h.createToken)
	tok.DELETE("/:id", h.deleteToken)
}

func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	op, err := h.svc.Register(&dto)
	if err != nil {
		if errors.Is(err, ErrOperatorExists) {
			response.ForbiddenMsg(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, operatorView{ID: op.ID, Username: op.Username, Name: op.Name})
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, op, err := h.svc.Login(dto.Username, dto.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			response.UnprocessableEntity(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, loginResponse{
		Token:    token,
		Operator: operatorView{ID: op.ID, Username: op.Username, Name: op.Name},
	})
}

func (h *Handler) profile(c *gin.Context) {
	op, err := h.svc.Operator(middleware.CurrentOperatorID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{
		"id":              op.ID,
		"username":        op.Username,
		"name":            op.Name,
		"mail":            op.Mail,
		"last_login_time": op.LastLoginTime,
		"session_id":      middleware.CurrentSessionID(c),
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.svc.Sessions(middleware.CurrentOperatorID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	current := middleware.CurrentSessionID(c)
	items := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, gin.H{
			"id":         s.ID,
			"ip":         s.IP,
			"ua":         s.UA,
			"created":    s.CreatedAt,
			"last_seen":  s.UpdatedAt,
			"expires_at": s.ExpiresAt,
			"current":    s.ID == current,
		})
	}
	response.OK(c, items)
}

func (h *Handler) revokeSession(c *gin.Context) {
	err := h.svc.RevokeSession(middleware.CurrentOperatorID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) revokeOtherSessions(c *gin.Context) {
	if err := h.svc.RevokeOtherSessions(middleware.CurrentOperatorID(c), middleware.CurrentSessionID(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) listTokens(c *gin.Context) {
	tokens, err := h.svc.ListTokens(middleware.CurrentOperatorID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	items := make([]tokenResponse, len(tokens))
	for i, t := range tokens {
		items[i] = tokenResponse{
			ID: t.ID, Name: t.Name, Token: t.Token,
			ExpiredAt: t.ExpiredAt, Created: t.CreatedAt,
		}
	}
	response.OK(c, items)
}

func (h *Handler) createToken(c *gin.Context) {
	var dto CreateTokenDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	t, err := h.svc.CreateToken(middleware.CurrentOperatorID(c), &dto)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, tokenResponse{
		ID: t.ID, Name: t.Name, Token: t.Token,
		ExpiredAt: t.ExpiredAt, Created: t.CreatedAt,
	})
}

func (h *Handler) deleteToken(c *gin.Context) {
	err := h.svc.DeleteToken(middleware.CurrentOperatorID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			response.NotFoundMsg(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
