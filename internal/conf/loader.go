package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load 一次性加载配置文件, 供 cron 等批处理入口使用;
// 常驻服务走 kratos config, 以保留文件监听能力
func Load(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Bootstrap
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &c, nil
}
