package services

import (
	"errors"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
)

// storeError 把仓库错误转换为业务错误：ErrNotFound 映射为未找到，其余一律视为存储不可用
func storeError(resource, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundError(resource)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.NewStoreUnavailableError(op, err)
}

// unavailable 用于 ErrNotFound 不可能出现的写操作
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.NewStoreUnavailableError(op, err)
}
