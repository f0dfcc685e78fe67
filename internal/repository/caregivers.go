package repository

import (
	"context"
	"database/sql"
	"fmt"

	"nestcare-monitor/internal/models"

	"go.uber.org/zap"
)

// CaregiverRepository 照护人仓库（只读）
// 投递前按渠道需要读取联系方式：push 取 device_token，sms 取 phone_number
type CaregiverRepository interface {
	// GetContact 查询照护人联系方式，不存在时返回 nil
	GetContact(ctx context.Context, ownerID string) (*models.CaregiverContact, error)
}

type caregiverRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCaregiverRepository 创建照护人仓库
func NewCaregiverRepository(db *sql.DB, logger *zap.Logger) CaregiverRepository {
	return &caregiverRepository{db: db, logger: logger}
}

func (r *caregiverRepository) GetContact(ctx context.Context, ownerID string) (*models.CaregiverContact, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	const query = `
		SELECT owner_id, display_name, device_token, phone_number
		FROM caregivers
		WHERE owner_id = $1
	`

	var contact models.CaregiverContact
	var deviceToken, phoneNumber sql.NullString

	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(
		&contact.OwnerID,
		&contact.DisplayName,
		&deviceToken,
		&phoneNumber,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get caregiver contact: %w", err)
	}

	if deviceToken.Valid {
		contact.DeviceToken = &deviceToken.String
	}
	if phoneNumber.Valid {
		contact.PhoneNumber = &phoneNumber.String
	}

	return &contact, nil
}
