// Package persona 将人设选项映射为系统指令与开场简报提示词
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Clarity 需求表达的清晰程度
type Clarity string

const (
	ClarityFull     Clarity = "full"
	ClarityModerate Clarity = "moderate"
	ClarityLow      Clarity = "low"
)

// Behavior 客户对方案的态度
type Behavior string

const (
	BehaviorAccepting Behavior = "accepting"
	BehaviorSkeptical Behavior = "skeptical"
	BehaviorPicky     Behavior = "picky"
)

// Role 客户期望对接的角色，可为空
type Role string

const (
	RoleNone       Role = ""
	RoleFrontend   Role = "frontend"
	RoleBackend    Role = "backend"
	RoleUIDesigner Role = "ui-designer"
)

// ErrInvalidConfig 人设配置不合法
var ErrInvalidConfig = errors.New("invalid persona config")

// Config 人设配置
type Config struct {
	Clarity  Clarity  `json:"clarity"`
	Behavior Behavior `json:"behavior"`
	Role     Role     `json:"role,omitempty"`
}

// Validate 校验枚举取值
func (c Config) Validate() error {
	switch c.Clarity {
	case ClarityFull, ClarityModerate, ClarityLow:
	default:
		return fmt.Errorf("%w: unknown clarity %q", ErrInvalidConfig, c.Clarity)
	}
	switch c.Behavior {
	case BehaviorAccepting, BehaviorSkeptical, BehaviorPicky:
	default:
		return fmt.Errorf("%w: unknown behavior %q", ErrInvalidConfig, c.Behavior)
	}
	switch c.Role {
	case RoleNone, RoleFrontend, RoleBackend, RoleUIDesigner:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Role)
	}
	return nil
}

// Encode 序列化，写入会话记录
func (c Config) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// Decode 从会话记录反序列化
func Decode(s string) (Config, error) {
	var c Config
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c, c.Validate()
}
