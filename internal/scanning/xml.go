package scanning

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ScanXML is the root element for XML serialization of scan results.
type ScanXML struct {
	XMLName    xml.Name  `xml:"scanresult"`
	Target     string    `xml:"target,attr"`
	HostStatus string    `xml:"status,attr"`
	StartTime  string    `xml:"start_time,attr"`
	EndTime    string    `xml:"end_time,attr"`
	Duration   string    `xml:"duration,attr"`
	Ports      []PortXML `xml:"port"`
}

// PortXML represents a scanned port for XML serialization.
type PortXML struct {
	Number   uint16 `xml:"Number"`
	Protocol string `xml:"Protocol"`
	State    string `xml:"State"`
	Service  string `xml:"Service"`
	Version  string `xml:"Version,omitempty"`
	Product  string `xml:"Product,omitempty"`
}

// WriteXML encodes result as indented XML to w.
func WriteXML(w io.Writer, result *Result) error {
	if result == nil {
		return &ScanError{Op: "encode XML", Err: fmt.Errorf("nil result")}
	}

	xmlData := &ScanXML{
		Target:     result.Target,
		HostStatus: result.HostStatus,
		StartTime:  result.StartTime.Format(time.RFC3339),
		EndTime:    result.EndTime.Format(time.RFC3339),
		Duration:   result.Duration.String(),
		Ports:      make([]PortXML, len(result.Ports)),
	}
	for i, port := range result.Ports {
		xmlData.Ports[i] = PortXML(port)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return &ScanError{Op: "write XML header", Err: err}
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(xmlData); err != nil {
		return &ScanError{Op: "encode XML", Err: err}
	}
	return nil
}

// SaveResults writes result to an XML file at filePath.
func SaveResults(result *Result, filePath string) (err error) {
	if err := validateFilePath(filePath); err != nil {
		return &ScanError{Op: "validate path", Err: err}
	}

	file, err := os.Create(filePath) //nolint:gosec // path is validated by validateFilePath
	if err != nil {
		return &ScanError{Op: "create file", Err: err}
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = &ScanError{Op: "close file", Err: cerr}
		}
	}()

	return WriteXML(file, result)
}

// LoadResults reads a result written by SaveResults.
func LoadResults(filePath string) (*Result, error) {
	if err := validateFilePath(filePath); err != nil {
		return nil, &ScanError{Op: "validate path", Err: err}
	}

	file, err := os.Open(filePath) //nolint:gosec // path is validated by validateFilePath
	if err != nil {
		return nil, &ScanError{Op: "open file", Err: err}
	}
	defer file.Close()

	var xmlData ScanXML
	if err := xml.NewDecoder(file).Decode(&xmlData); err != nil {
		return nil, &ScanError{Op: "decode XML", Err: err}
	}

	result := &Result{
		Target:     xmlData.Target,
		HostStatus: xmlData.HostStatus,
		Ports:      make([]Port, len(xmlData.Ports)),
	}
	result.StartTime, _ = time.Parse(time.RFC3339, xmlData.StartTime)
	result.EndTime, _ = time.Parse(time.RFC3339, xmlData.EndTime)
	result.Duration, _ = time.ParseDuration(xmlData.Duration)

	for i, xmlPort := range xmlData.Ports {
		result.Ports[i] = Port(xmlPort)
	}

	return result, nil
}

// validateFilePath validates that the file path is safe to use.
func validateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("path contains directory traversal")
	}
	return nil
}
