package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_Classify(t *testing.T) {
	table := Default()

	tests := []struct {
		service  string
		name     string
		severity Severity
	}{
		{"ftp", "FTP Anonymous Login Enabled", SeverityMedium},
		{"telnet", "Telnet Service Detected", SeverityHigh},
		{"http", "HTTP Service Without HTTPS", SeverityMedium},
		{"http-proxy", "HTTP Service Without HTTPS", SeverityMedium},
		{"SMTP", "Open SMTP Relay", SeverityMedium},
		{"ssh", "SSH Service Detected", SeverityLow},
		{"ms-wbt-server", "Remote Desktop Enabled", SeverityMedium},
		{"netbios-ssn", "NetBIOS Service Exposed", SeverityMedium},
		{"snmp", "SNMP Service Accessible", SeverityMedium},
		{"mysql", "Open MYSQL Port Detected", SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			got := table.Classify(tt.service, 21)
			assert.Equal(t, tt.name, got.Name)
			assert.Equal(t, tt.severity, got.Severity)
			assert.NotEmpty(t, got.Description)
			assert.NotEmpty(t, got.Remediation)
		})
	}
}

func TestDefault_FirstMatchWins(t *testing.T) {
	// "sftp" contains ftp before ssh is considered.
	got := Default().Classify("sftp", 115)
	assert.Equal(t, "FTP Anonymous Login Enabled", got.Name)
}

func TestGeneric(t *testing.T) {
	got := Generic("mysql", 3306)
	assert.Equal(t, Classification{
		Name:        "Open MYSQL Port Detected",
		Severity:    SeverityLow,
		Description: "Port 3306 is open running mysql",
		Remediation: "Review if port 3306 needs to be open. Close if unnecessary.",
	}, got)

	unknown := Default().Classify("", 9999)
	assert.Equal(t, "Open Port Detected", unknown.Name)
	assert.Equal(t, "Port 9999 is open running unknown service", unknown.Description)
	assert.Equal(t, SeverityLow, unknown.Severity)
}

func TestNew_CustomTable(t *testing.T) {
	critical := Classification{Name: "Redis Without Auth", Severity: SeverityCritical}
	table := New([]Rule{{Match: Contains("redis"), Classification: critical}}, nil)

	assert.Equal(t, 1, table.Len())
	assert.Equal(t, critical, table.Classify("redis", 6379))
	assert.Equal(t, SeverityLow, table.Classify("ftp", 21).Severity)
}

func TestSeverity(t *testing.T) {
	for i, s := range Severities {
		assert.True(t, s.Valid())
		assert.Equal(t, i+1, s.Rank())
	}
	assert.False(t, Severity("urgent").Valid())
}
