// Package entity 定义领域实体
package entity

import (
	"time"
)

// File 已上传文件
type File struct {
	ID       string `json:"id" gorm:"type:uuid;primaryKey"`
	UserID   string `json:"user_id" gorm:"type:varchar(64);index;not null"`
	Name     string `json:"name" gorm:"type:varchar(512);not null"`
	Type     string `json:"type" gorm:"type:varchar(16);not null"`
	Size     int64  `json:"size" gorm:"not null;default:0"`
	Tokens   int    `json:"tokens" gorm:"not null;default:0"`
	Provider string `json:"provider" gorm:"type:varchar(16)"`
	// DeterministicID 内容指纹，作为重复入库的幂等键返回给调用方
	DeterministicID string    `json:"deterministic_id" gorm:"type:varchar(128);index"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (File) TableName() string {
	return "files"
}
