package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound 表示会话在三个层级中都不存在。
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionForbidden 表示调用方不是会话的所有者。
	ErrSessionForbidden = errors.New("session belongs to another user")
	// ErrRelayTimeout 表示调用工作流超过截止时间。
	ErrRelayTimeout = errors.New("kenny router timeout")
	// ErrRelayFailed 表示工作流调用的传输或解析失败。
	ErrRelayFailed = errors.New("kenny router error")
)

// PersistenceError 表示持久层写入失败，不影响正在进行的响应。
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GatewayFault 表示编排过程中出现的非预期错误（包括 panic）。
type GatewayFault struct {
	Stage string
	Err   error
}

func (e *GatewayFault) Error() string {
	return fmt.Sprintf("Pipeline error: %s: %v", e.Stage, e.Err)
}

func (e *GatewayFault) Unwrap() error { return e.Err }
