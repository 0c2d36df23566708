// Package telemetry 装配 OpenTelemetry SDK：结构化补全与每次往返的 span
// 经 OTLP gRPC 导出，resource 上附带服务名、版本与默认模式。
// 禁用时不连接任何外部服务，调用方拿到的是全局 noop provider。
package telemetry
