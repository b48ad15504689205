// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为凭据池的 Acquire 链路提供 TracerProvider 与 MeterProvider。
// 遥测禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
