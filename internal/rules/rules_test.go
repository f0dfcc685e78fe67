package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Table(t *testing.T) {
	table := Default()

	assert.Greater(t, table.Len(), 0)

	feeding := table.ForCategory(CategoryFeeding)
	require.NotEmpty(t, feeding)
	for _, r := range feeding {
		assert.Equal(t, CategoryFeeding, r.Category)
	}

	// 默认表必须覆盖全部规则种类
	kinds := map[string]bool{}
	for _, r := range table.All() {
		kinds[r.Kind] = true
	}
	assert.True(t, kinds[KindFeedingDelay])
	assert.True(t, kinds[KindFeedingInterval])
	assert.True(t, kinds[KindFeedingDailyTotal])
	assert.True(t, kinds[KindSleepDailyTotal])
	assert.True(t, kinds[KindWeightStale])
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Len(), table.Len())
}

func TestLoad_FromFile(t *testing.T) {
	content := `
rules:
  - rule_id: feeding-delay-test
    category: feeding
    kind: feeding_delay
    applies_to: full_term
    threshold: 5.0
    severity: HIGH
    name: Feeding overdue
    description: test rule
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	table, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	r := table.All()[0]
	assert.Equal(t, "feeding-delay-test", r.RuleID)
	assert.Equal(t, KindFeedingDelay, r.Kind)
	assert.Equal(t, 5.0, r.Threshold)
}

func TestLoad_InvalidRule(t *testing.T) {
	content := `
rules:
  - rule_id: bad-rule
    category: nonsense
    kind: feeding_delay
    applies_to: any
    threshold: 1.0
    severity: HIGH
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestLoad_MedicationCategoryRejected(t *testing.T) {
	// 用药提醒走计划展开，规则表不接受 medication 分类
	content := `
rules:
  - rule_id: med-rule
    category: medication
    kind: feeding_delay
    applies_to: any
    threshold: 1.0
    severity: MEDIUM
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/rules.yaml")
	assert.Error(t, err)
}

func TestRule_Matches(t *testing.T) {
	anyRule := Rule{AppliesTo: AppliesAny}
	assert.True(t, anyRule.Matches("preterm"))
	assert.True(t, anyRule.Matches("full_term"))

	preterm := Rule{AppliesTo: AppliesPreterm}
	assert.True(t, preterm.Matches("preterm"))
	assert.False(t, preterm.Matches("full_term"))
}
