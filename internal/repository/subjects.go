package repository

import (
	"context"
	"database/sql"
	"fmt"

	"nestcare-monitor/internal/models"

	"go.uber.org/zap"
)

// SubjectRepository 监护对象仓库（只读）
// 归属校验：subject.OwnerID 必须与调用方声明的 owner_id 一致
type SubjectRepository interface {
	// Get 按 ID 查询对象，不存在时返回 nil
	Get(ctx context.Context, subjectID string) (*models.Subject, error)
}

type subjectRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubjectRepository 创建监护对象仓库
func NewSubjectRepository(db *sql.DB, logger *zap.Logger) SubjectRepository {
	return &subjectRepository{db: db, logger: logger}
}

func (r *subjectRepository) Get(ctx context.Context, subjectID string) (*models.Subject, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	const query = `
		SELECT subject_id, owner_id, display_name, subject_class, birth_date
		FROM subjects
		WHERE subject_id = $1
	`

	var subject models.Subject
	err := r.db.QueryRowContext(ctx, query, subjectID).Scan(
		&subject.SubjectID,
		&subject.OwnerID,
		&subject.DisplayName,
		&subject.Class,
		&subject.BirthDate,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	return &subject, nil
}
