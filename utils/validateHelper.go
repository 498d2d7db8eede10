package utils

import (
	"context"

	"github.com/mmdatafocus/members_backend/config"
)

// ValidateResourceId checks that a row with the given id exists.
// Returns ErrorRecordNotFound when it does not.
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// ResourceCountWhere counts records of T matching the condition.
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model).Where(condition, value...)
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
