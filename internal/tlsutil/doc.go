// Package tlsutil 提供集中式 TLS 与 HTTP 设置：
// provider 调用使用的加固客户端（TLS 1.2+，仅 AEAD 密码套件），以及指标端点使用的服务端超时配置。
package tlsutil
