package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAgent(t *testing.T) {
	tests := []struct {
		ua   string
		kind Kind
		want Agent
	}{
		{"Mozilla/5.0 (X11; Linux x86_64; rv:102.0) Gecko/20100101 Thunderbird/102.0 Lightning/5.4", KindCalendar, AgentLightning},
		{"Mac_OS_X/10.9 (13A603) iCal/7.0", KindCalendar, AgentAppleICal},
		{"iCal4OL/2.11", KindCalendar, AgentOutlook},
		{"Thunderbird/115.0", KindCalendar, AgentGeneric},
		{"Thunderbird/115.0", KindContacts, AgentThunderbird},
		{"Lightning/5.4", KindContacts, AgentGeneric},
		{"", KindCalendar, AgentGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyAgent(tt.ua, tt.kind))
		})
	}
}

func TestAgentCapabilities(t *testing.T) {
	assert.True(t, AgentLightning.LinksAttachments())
	assert.False(t, AgentGeneric.LinksAttachments())
	assert.True(t, AgentAppleICal.AllDaySensitive())
	assert.False(t, AgentOutlook.AllDaySensitive())
}

func TestContextDefaults(t *testing.T) {
	assert.Equal(t, VCard3, Context{}.VCardVersion())
	assert.Equal(t, VCard3, Context{Version: "2.1"}.VCardVersion())
	assert.Equal(t, VCard4, Context{Version: VCard4}.VCardVersion())

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Context{Now: func() time.Time { return fixed }}.Clock())
	assert.False(t, Context{}.Clock().IsZero())
}
