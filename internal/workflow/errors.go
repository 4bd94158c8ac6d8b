package workflow

import "errors"

var (
	// ErrAuditNotFound 审核不存在或已删除
	ErrAuditNotFound = errors.New("审核不存在")
	// ErrOrganizationNotFound 企业不存在
	ErrOrganizationNotFound = errors.New("企业不存在")
	// ErrUnknownTransition 迁移标识未在目录中声明
	ErrUnknownTransition = errors.New("未知的迁移标识")
	// ErrInvalidTransition 当前状态不允许该迁移，调用方需先补齐外部条件再重试
	ErrInvalidTransition = errors.New("当前状态不允许该迁移")
	// ErrGuardRejected 迁移守卫不满足
	ErrGuardRejected = errors.New("迁移守卫不满足")
	// ErrConcurrentModification 乐观并发检查失败，状态已被并发请求改写
	ErrConcurrentModification = errors.New("状态已被并发修改")
	// ErrCaseAlreadyOpen 企业已有未了结的认证周期
	ErrCaseAlreadyOpen = errors.New("已有进行中的认证周期")
)
