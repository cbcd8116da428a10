// Package rules maps a detected network service to a finding
// classification. Lookup walks an ordered table of predicates and falls
// back to a generic low-severity classification, so every open port
// produces exactly one classification.
package rules

import (
	"fmt"
	"strings"
)

// Severity ranks how serious a finding is.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Classification describes what an open service means for the target.
type Classification struct {
	Name        string
	Severity    Severity
	Description string
	Remediation string
	CVEID       string
}

// Matcher decides whether a rule applies to a lower-cased service name.
type Matcher func(service string) bool

// Contains matches services whose name contains any of the given keys.
func Contains(keys ...string) Matcher {
	return func(service string) bool {
		for _, key := range keys {
			if strings.Contains(service, key) {
				return true
			}
		}
		return false
	}
}

// Rule pairs a matcher with the classification it yields.
type Rule struct {
	Match          Matcher
	Classification Classification
}

// Fallback classifies a service no rule matched.
type Fallback func(service string, port int) Classification

// Table is an ordered rule list. The first matching rule wins.
type Table struct {
	rules    []Rule
	fallback Fallback
}

// New builds a table. A nil fallback uses Generic.
func New(rules []Rule, fallback Fallback) *Table {
	if fallback == nil {
		fallback = Generic
	}
	return &Table{rules: rules, fallback: fallback}
}

// Default returns the built-in rule table.
func Default() *Table {
	return New(defaultRules, Generic)
}

// Classify returns the classification for service found on port. It never
// fails.
func (t *Table) Classify(service string, port int) Classification {
	normalized := strings.ToLower(strings.TrimSpace(service))
	for _, rule := range t.rules {
		if rule.Match(normalized) {
			return rule.Classification
		}
	}
	return t.fallback(normalized, port)
}

// Len returns the number of rules, excluding the fallback.
func (t *Table) Len() int {
	return len(t.rules)
}

// Generic is the fallback for any open port without a specific rule.
func Generic(service string, port int) Classification {
	name := "Open Port Detected"
	described := "unknown service"
	if service != "" {
		name = fmt.Sprintf("Open %s Port Detected", strings.ToUpper(service))
		described = service
	}
	return Classification{
		Name:        name,
		Severity:    SeverityLow,
		Description: fmt.Sprintf("Port %d is open running %s", port, described),
		Remediation: fmt.Sprintf("Review if port %d needs to be open. Close if unnecessary.", port),
	}
}

var defaultRules = []Rule{
	{
		Match: Contains("ftp"),
		Classification: Classification{
			Name:        "FTP Anonymous Login Enabled",
			Severity:    SeverityMedium,
			Description: "FTP server allows anonymous login without authentication",
			Remediation: "Disable anonymous FTP access or require authentication",
		},
	},
	{
		Match: Contains("telnet"),
		Classification: Classification{
			Name:        "Telnet Service Detected",
			Severity:    SeverityHigh,
			Description: "Telnet transmits credentials in plain text",
			Remediation: "Replace Telnet with SSH",
		},
	},
	{
		Match: Contains("http"),
		Classification: Classification{
			Name:        "HTTP Service Without HTTPS",
			Severity:    SeverityMedium,
			Description: "Web service running without encryption",
			Remediation: "Enable HTTPS/TLS encryption",
		},
	},
	{
		Match: Contains("smtp"),
		Classification: Classification{
			Name:        "Open SMTP Relay",
			Severity:    SeverityMedium,
			Description: "SMTP server may allow open relaying",
			Remediation: "Configure SMTP authentication and relay restrictions",
		},
	},
	{
		Match: Contains("ssh"),
		Classification: Classification{
			Name:        "SSH Service Detected",
			Severity:    SeverityLow,
			Description: "SSH service is running",
			Remediation: "Ensure SSH is configured with strong authentication",
		},
	},
	{
		// nmap reports RDP as ms-wbt-server
		Match: Contains("rdp", "ms-wbt-server"),
		Classification: Classification{
			Name:        "Remote Desktop Enabled",
			Severity:    SeverityMedium,
			Description: "Remote Desktop Protocol is accessible",
			Remediation: "Restrict RDP access to trusted networks",
		},
	},
	{
		Match: Contains("netbios"),
		Classification: Classification{
			Name:        "NetBIOS Service Exposed",
			Severity:    SeverityMedium,
			Description: "NetBIOS service may expose system information",
			Remediation: "Disable NetBIOS if not needed",
		},
	},
	{
		Match: Contains("snmp"),
		Classification: Classification{
			Name:        "SNMP Service Accessible",
			Severity:    SeverityMedium,
			Description: "SNMP may expose system information",
			Remediation: "Secure SNMP with proper community strings",
		},
	},
}
