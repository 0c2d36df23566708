// Package config 提供 InstructFlow 的配置加载。
//
// 配置按 默认值 → YAML 文件 → INSTRUCTFLOW_* 环境变量 的顺序合并，
// 覆盖引擎默认模式与重试预算、Provider、日志、指标与遥测。
package config
