package rules

import (
	"fmt"
	"os"

	"nestcare-monitor/internal/models"

	"gopkg.in/yaml.v3"
)

// 规则分类
// 用药提醒由计划展开生成，不走规则评估，所以没有 medication 分类
const (
	CategoryFeeding = "feeding"
	CategorySleep   = "sleep"
	CategoryWeight  = "weight"
)

// 规则种类（决定评估算法）
const (
	KindFeedingDelay      = "feeding_delay"       // 距上次喂养超过阈值（小时）
	KindFeedingInterval   = "feeding_interval"    // 两次喂养间隔低于最小值（小时）
	KindFeedingDailyTotal = "feeding_daily_total" // 当日总量低于阈值（ml），低于危急阈值升级为 HIGH
	KindSleepDailyTotal   = "sleep_daily_total"   // 当日睡眠总时长低于阈值（小时）
	KindWeightStale       = "weight_stale"        // 距上次体重记录超过阈值（天）
)

// 对象类别谓词
const (
	AppliesAny      = "any"
	AppliesPreterm  = "preterm"
	AppliesFullTerm = "full_term"
)

// Rule 监护规则（静态配置，启动时加载，运行期不变）
type Rule struct {
	RuleID            string  `yaml:"rule_id"`
	Category          string  `yaml:"category"`
	Kind              string  `yaml:"kind"`
	AppliesTo         string  `yaml:"applies_to"` // any, preterm, full_term
	Threshold         float64 `yaml:"threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold,omitempty"` // 仅 feeding_daily_total 使用
	Severity          string  `yaml:"severity"`                     // LOW, MEDIUM, HIGH
	Name              string  `yaml:"name"`
	Description       string  `yaml:"description"`
}

// Matches 判断规则是否适用于指定对象类别
func (r Rule) Matches(subjectClass string) bool {
	return r.AppliesTo == AppliesAny || r.AppliesTo == subjectClass
}

// Table 不可变规则表
// 启动时构建一次，之后只读，按指针传递给规则引擎
type Table struct {
	rules []Rule
}

// ForCategory 返回指定分类的规则（返回副本切片，调用方不可影响表内容）
func (t *Table) ForCategory(category string) []Rule {
	var out []Rule
	for _, r := range t.rules {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

// All 返回全部规则
func (t *Table) All() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len 规则数量
func (t *Table) Len() int {
	return len(t.rules)
}

// ruleFile 规则文件结构
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Load 加载规则表
// path 为空时使用内置默认规则表；文件中的规则整体替换默认表（阈值属于部署配置）
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules file contains no rules: %s", path)
	}

	for i, r := range file.Rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
	}

	return &Table{rules: file.Rules}, nil
}

func validateRule(r Rule) error {
	if r.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}
	switch r.Category {
	case CategoryFeeding, CategorySleep, CategoryWeight:
	default:
		return fmt.Errorf("unknown category: %s", r.Category)
	}
	switch r.Kind {
	case KindFeedingDelay, KindFeedingInterval, KindFeedingDailyTotal, KindSleepDailyTotal, KindWeightStale:
	default:
		return fmt.Errorf("unknown kind: %s", r.Kind)
	}
	switch r.AppliesTo {
	case AppliesAny, AppliesPreterm, AppliesFullTerm:
	default:
		return fmt.Errorf("unknown applies_to: %s", r.AppliesTo)
	}
	if models.SeverityRank(r.Severity) == 0 {
		return fmt.Errorf("unknown severity: %s", r.Severity)
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	return nil
}

// Default 内置默认规则表
// 阈值仅为部署缺省值，生产环境通过 RULES_PATH 指定规则文件覆盖
func Default() *Table {
	return &Table{rules: []Rule{
		{
			RuleID:      "feeding-delay-preterm",
			Category:    CategoryFeeding,
			Kind:        KindFeedingDelay,
			AppliesTo:   AppliesPreterm,
			Threshold:   3.0, // 小时
			Severity:    models.SeverityHigh,
			Name:        "Feeding overdue",
			Description: "No feeding logged within the expected interval for a preterm subject",
		},
		{
			RuleID:      "feeding-delay-fullterm",
			Category:    CategoryFeeding,
			Kind:        KindFeedingDelay,
			AppliesTo:   AppliesFullTerm,
			Threshold:   4.0, // 小时
			Severity:    models.SeverityHigh,
			Name:        "Feeding overdue",
			Description: "No feeding logged within the expected interval",
		},
		{
			RuleID:      "feeding-interval-min",
			Category:    CategoryFeeding,
			Kind:        KindFeedingInterval,
			AppliesTo:   AppliesAny,
			Threshold:   1.0, // 小时
			Severity:    models.SeverityMedium,
			Name:        "Feedings too frequent",
			Description: "Interval between the last two feedings is below the minimum",
		},
		{
			RuleID:            "feeding-daily-total",
			Category:          CategoryFeeding,
			Kind:              KindFeedingDailyTotal,
			AppliesTo:         AppliesAny,
			Threshold:         150.0, // ml
			CriticalThreshold: 75.0,  // ml，低于此值升级为 HIGH
			Severity:          models.SeverityMedium,
			Name:              "Low daily feeding total",
			Description:       "Total feeding volume for the current day is below the expected minimum",
		},
		{
			RuleID:      "sleep-daily-total",
			Category:    CategorySleep,
			Kind:        KindSleepDailyTotal,
			AppliesTo:   AppliesAny,
			Threshold:   10.0, // 小时
			Severity:    models.SeverityMedium,
			Name:        "Low daily sleep",
			Description: "Total sleep duration for the current day is below the expected minimum",
		},
		{
			RuleID:      "weight-stale",
			Category:    CategoryWeight,
			Kind:        KindWeightStale,
			AppliesTo:   AppliesAny,
			Threshold:   7.0, // 天
			Severity:    models.SeverityLow,
			Name:        "Weight check overdue",
			Description: "No weight measurement logged within the expected number of days",
		},
	}}
}
