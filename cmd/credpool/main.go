// =============================================================================
// credpool 主入口
// =============================================================================
// 凭据池命令行：诊断服务、健康检查、用量统计与计数重置
//
// 使用方法:
//
//	credpool serve                        # 启动诊断服务
//	credpool serve --config config.yaml   # 指定配置文件
//	credpool health                       # 打印所有服务的健康报告
//	credpool health --service youtube     # 单个服务，不健康时退出码为 1
//	credpool stats --service elevenlabs   # 打印每个 key 的用量
//	credpool reset --service youtube      # 清零服务的用量计数
//	credpool version                      # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], stderr)
	case "health":
		return runHealth(args[1:], stdout, stderr)
	case "stats":
		return runStats(args[1:], stdout, stderr)
	case "reset":
		return runReset(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "credpool %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `credpool - API credential pool manager

Usage:
  credpool <command> [options]

Commands:
  serve     Start the diagnostics server (/health, /stats, /metrics)
  health    Print credential health and recommendations
  stats     Print per-key usage statistics
  reset     Reset usage counters for a service
  version   Show version information
  help      Show this help message

Common options:
  --config <path>    Path to configuration file (YAML)
  --service <name>   Limit output to one service (required for reset)
  --json             Print JSON instead of text (health, stats)

Credentials are read from <PREFIX>_API_KEY_1..N, <PREFIX>_API_KEY,
<PREFIX>_KEYS_LIST (comma separated) and the secure keys file.

Examples:
  credpool serve --config /etc/credpool/config.yaml
  credpool health --service youtube
  credpool stats --service elevenlabs --json
  credpool reset --service youtube`)
}
