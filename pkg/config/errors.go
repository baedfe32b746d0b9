package config

import dberrors "github.com/tokmz/databind/pkg/errors"

// 配置包专用错误，类别均为 CONFIG_ERROR
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = dberrors.New(dberrors.KindConfig, 3001, "config file not found")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = dberrors.New(dberrors.KindConfig, 3003, "config read failed")
	// ErrConfigDecode 配置解码到 Settings 失败
	ErrConfigDecode = dberrors.New(dberrors.KindConfig, 3004, "config decode failed")
	// ErrConfigInvalid 配置校验失败
	ErrConfigInvalid = dberrors.New(dberrors.KindConfig, 3005, "invalid config")
)
