package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
	}{
		{`{"messageType":"CpuLoad","timestampUtc":1,"source":"CAN","data":{}}`, KindTelemetry},
		{`{"SystemId":"PUMP-1","firmware":"2.1"}`, KindIdentification},
		{`{"SystemId":""}`, KindTelemetry},
		{`{"type":"operatorMessage","text":"hello"}`, KindOperator},
		{`{"type":"selectSystem","systemId":"B"}`, KindSelect},
		{`{"type":"ping"}`, KindControl},
		{`{"messageType":"CpuLoad","SystemId":"X"}`, KindTelemetry},
		{`not json`, KindTelemetry},
		{`[]`, KindTelemetry},
		{`{}`, KindTelemetry},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify([]byte(tt.raw)), tt.raw)
	}
}

func TestNormalizeScope(t *testing.T) {
	assert.Equal(t, ScopeSystem, NormalizeScope("system"))
	assert.Equal(t, ScopeSystem, NormalizeScope(" System "))
	assert.Equal(t, ScopeAll, NormalizeScope("all"))
	assert.Equal(t, ScopeAll, NormalizeScope(""))
	assert.Equal(t, ScopeAll, NormalizeScope("everyone"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "operator", KindOperator.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
