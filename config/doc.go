// Package config 提供 credpool 的配置加载。
//
// 配置按 默认值 → YAML 文件 → CREDPOOL_* 环境变量 的顺序叠加。
// 服务列表只能通过 YAML 配置，未配置时使用内置的服务列表。
package config
