package session

import (
	"strings"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	jwtpkg "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/jwt"
	"gorm.io/gorm"
)

const DefaultTTL = 30 * 24 * time.Hour

// Issue creates a DB session and signs a JWT bound to that session.
func Issue(db *gorm.DB, operatorID, ip, ua string, ttl time.Duration) (string, *models.OperatorSession, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	s := &models.OperatorSession{
		OperatorID: operatorID,
		IP:         strings.TrimSpace(ip),
		UA:         strings.TrimSpace(ua),
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.Create(s).Error; err != nil {
		return "", nil, err
	}

	token, err := jwtpkg.SignWithOptions(operatorID, ttl, jwtpkg.SignOptions{
		SessionID: s.ID,
		IP:        s.IP,
		UA:        s.UA,
	})
	if err != nil {
		_ = db.Delete(s).Error
		return "", nil, err
	}
	return token, s, nil
}

func IsActive(db *gorm.DB, operatorID, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		// Legacy token without sid.
		return true, nil
	}

	var count int64
	err := db.Model(&models.OperatorSession{}).
		Where("id = ? AND operator_id = ? AND revoked_at IS NULL AND expires_at > ?", sessionID, operatorID, time.Now()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func Touch(db *gorm.DB, operatorID, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	_ = db.Model(&models.OperatorSession{}).
		Where("id = ? AND operator_id = ? AND revoked_at IS NULL AND expires_at > ?", sessionID, operatorID, time.Now()).
		Update("updated_at", time.Now()).Error
}

func ListActive(db *gorm.DB, operatorID string) ([]models.OperatorSession, error) {
	var sessions []models.OperatorSession
	err := db.Where("operator_id = ? AND revoked_at IS NULL AND expires_at > ?", operatorID, time.Now()).
		Order("updated_at DESC, created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func Revoke(db *gorm.DB, operatorID, sessionID string) error {
	now := time.Now()
	res := db.Model(&models.OperatorSession{}).
		Where("id = ? AND operator_id = ? AND revoked_at IS NULL", sessionID, operatorID).
		Update("revoked_at", &now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func RevokeAllExcept(db *gorm.DB, operatorID, keepSessionID string) error {
	now := time.Now()
	query := db.Model(&models.OperatorSession{}).
		Where("operator_id = ? AND revoked_at IS NULL", operatorID)
	if strings.TrimSpace(keepSessionID) != "" {
		query = query.Where("id <> ?", keepSessionID)
	}
	return query.Update("revoked_at", &now).Error
}
