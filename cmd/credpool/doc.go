/*
credpool 是凭据池的命令行入口。

serve 启动诊断 HTTP 服务（健康报告、用量统计、Prometheus 指标），
并定时刷新按状态统计的 key 数；health、stats、reset 是读写同一份
持久化状态的一次性命令，结果输出到 stdout，日志输出到 stderr。

凭据只来自环境变量与安全文件，配置文件中不包含任何密钥。
*/
package main
