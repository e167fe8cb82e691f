package model

// AccountModels 账户相关模型，服务启动时自动迁移
// 会话与消息两个集合由 setup 命令按配置的集合 ID 单独创建
var AccountModels = []interface{}{
	&User{},
	&AuthToken{},
}
