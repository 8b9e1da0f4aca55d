package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/agentcore/agentcore/internal/domain/checkpoint"
	"github.com/agentcore/agentcore/internal/infrastructure/persistence/models"
	domainErrors "github.com/agentcore/agentcore/pkg/errors"
)

// GormCheckpointStore implements checkpoint.Store on top of gorm,
// generalized from the teacher's message-repository Save/Find shape onto
// checkpoint blobs instead of chat messages.
type GormCheckpointStore struct {
	db *gorm.DB
}

// NewGormCheckpointStore constructs a gorm-backed checkpoint.Store.
func NewGormCheckpointStore(db *gorm.DB) checkpoint.Store {
	return &GormCheckpointStore{db: db}
}

// Save upserts cp.
func (r *GormCheckpointStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	model := toModel(cp)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save checkpoint: " + err.Error())
	}
	return nil
}

// ListBySession returns every checkpoint for sessionID, newest first.
func (r *GormCheckpointStore) ListBySession(ctx context.Context, sessionID string) ([]*checkpoint.Checkpoint, error) {
	var rows []models.CheckpointModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list checkpoints: " + err.Error())
	}

	out := make([]*checkpoint.Checkpoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomain(&row))
	}
	return out, nil
}

// Delete removes the checkpoint with the given id.
func (r *GormCheckpointStore) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.CheckpointModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete checkpoint: " + result.Error.Error())
	}
	return nil
}

func toModel(cp *checkpoint.Checkpoint) *models.CheckpointModel {
	return &models.CheckpointModel{
		ID:           cp.ID,
		SessionID:    cp.SessionID,
		CreatedAt:    cp.CreatedAt,
		Iteration:    cp.Iteration,
		State:        cp.State,
		MessagesJSON: cp.MessagesJSON,
		PlanJSON:     cp.PlanJSON,
		TokensUsed:   cp.TokensUsed,
	}
}

func toDomain(m *models.CheckpointModel) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:           m.ID,
		SessionID:    m.SessionID,
		CreatedAt:    m.CreatedAt,
		Iteration:    m.Iteration,
		State:        m.State,
		MessagesJSON: m.MessagesJSON,
		PlanJSON:     m.PlanJSON,
		TokensUsed:   m.TokensUsed,
	}
}
