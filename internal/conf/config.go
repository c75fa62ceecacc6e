package conf

import (
	"fmt"
)

type Bootstrap struct {
	Server  *Server  `yaml:"server" json:"server"`
	Data    *Data    `yaml:"data" json:"data"`
	Billing *Billing `yaml:"billing" json:"billing"`
	Bridge  *Bridge  `yaml:"bridge" json:"bridge"`
	Log     *Log     `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Addr    string `yaml:"addr" json:"addr"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver string `yaml:"driver" json:"driver"`
		Source string `yaml:"source" json:"source"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"redis" json:"redis"`
}

// Billing 计费默认参数 (首次启动时写入 billing_settings 表, 之后以表中数据为准)
type Billing struct {
	TreasuryAccount      uint64 `yaml:"treasury_account" json:"treasury_account"`
	GracePeriodSeconds   int64  `yaml:"grace_period_seconds" json:"grace_period_seconds"`
	CycleDurationSeconds int64  `yaml:"cycle_duration_seconds" json:"cycle_duration_seconds"`
	RetryIntervalSeconds int64  `yaml:"retry_interval_seconds" json:"retry_interval_seconds"`
	ScanWindowSize       int    `yaml:"scan_window_size" json:"scan_window_size"`
}

// Bridge 跨域同步配置
type Bridge struct {
	LocalDomainID uint64 `yaml:"local_domain_id" json:"local_domain_id"`
	MessageFee    int64  `yaml:"message_fee" json:"message_fee"`
	StreamMaxLen  int64  `yaml:"stream_max_len" json:"stream_max_len"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Data.Redis.Addr == "" {
		return fmt.Errorf("data.redis.addr is required")
	}
	if b.Billing == nil {
		return fmt.Errorf("billing configuration is required")
	}
	if b.Billing.TreasuryAccount == 0 {
		return fmt.Errorf("billing.treasury_account is required")
	}
	if b.Bridge == nil {
		return fmt.Errorf("bridge configuration is required")
	}
	if b.Bridge.LocalDomainID == 0 {
		return fmt.Errorf("bridge.local_domain_id is required")
	}
	if b.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}
