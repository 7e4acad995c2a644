// Package apperr 定义了服务内统一的错误分类。
//
// 每种带详情的错误类型都可以通过 errors.Is 匹配到对应的哨兵错误，
// handler 层只按哨兵决定 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 输入形状或取值范围非法。
	ErrValidation = errors.New("validation error")
	// ErrNotFound 引用的记录不存在。
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition 状态机守卫不允许该动作。
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyFinalized 请求已处于终态。
	ErrAlreadyFinalized = errors.New("request already finalized")
	// ErrConflict 并发修改冲突或重复的进行中请求。
	ErrConflict = errors.New("conflict")
	// ErrDuplicate 文档已存在（内容哈希或规范化 URL 相同）。
	ErrDuplicate = errors.New("duplicate")
	// ErrProvider 外部服务（embedding、检索、存储）失败，核心逻辑不做重试。
	ErrProvider = errors.New("provider error")
	// ErrUnauthorized 未认证。
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError 描述某个字段的校验失败。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid 是构造 ValidationError 的快捷方式。
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError 标识不存在的资源。
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound 构造 NotFoundError。
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidTransitionError 表示在当前状态下不允许执行该动作。
type InvalidTransitionError struct {
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a request in status %q", e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// AlreadyFinalizedError 携带请求当前所处的终态。
type AlreadyFinalizedError struct {
	Status string
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("request already finalized with status %q", e.Status)
}

func (e *AlreadyFinalizedError) Is(target error) bool { return target == ErrAlreadyFinalized }

// ConflictError 表示资源在读写之间被其他调用方修改。
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %q was modified concurrently", e.Resource, e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// DuplicateError 表示提交的内容与已有文档重复。
type DuplicateError struct {
	Key        string
	ExistingID uint
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("document already exists for %s (id=%d)", e.Key, e.ExistingID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// EmbeddingProviderError 包装 embedding 服务返回的错误。
type EmbeddingProviderError struct {
	Err error
}

func (e *EmbeddingProviderError) Error() string { return "embedding provider: " + e.Err.Error() }
func (e *EmbeddingProviderError) Unwrap() error { return e.Err }
func (e *EmbeddingProviderError) Is(target error) bool {
	return target == ErrProvider
}

// SearchError 包装相似度检索失败。
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string { return "similarity search: " + e.Err.Error() }
func (e *SearchError) Unwrap() error { return e.Err }
func (e *SearchError) Is(target error) bool {
	return target == ErrProvider
}

// Provider 把任意外部依赖错误标记为 ErrProvider，保留原始错误链。
func Provider(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProvider, err)
}
