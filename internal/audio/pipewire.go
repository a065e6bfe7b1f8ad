package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
)

// PipeWire queries the PipeWire graph through the pw-link tool
type PipeWire struct{}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{}
}

// ListPorts returns all output ports (capture sources and monitors)
func (pw *PipeWire) ListPorts() ([]string, error) {
	cmd := exec.Command("pw-link", "-o")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}

	return parsePortList(string(output)), nil
}

// ListNodes returns the distinct node names owning output ports
func (pw *PipeWire) ListNodes() ([]string, error) {
	ports, err := pw.ListPorts()
	if err != nil {
		return nil, err
	}
	return nodeNames(ports), nil
}

// ValidateNode checks that a capture node exists and is unambiguous
func (pw *PipeWire) ValidateNode(nodeName string) error {
	if nodeName == "" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validateNodeInList(nodeName, ports)
}

// parsePortList extracts port names from pw-link output
func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		// Link lines from `pw-link -l` start with an arrow marker
		if strings.HasPrefix(line, "|->") || strings.HasPrefix(line, "|<-") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// nodeOf returns the node part of a "node:port" name
func nodeOf(port string) string {
	idx := strings.LastIndex(port, ":")
	if idx <= 0 {
		return port
	}
	return port[:idx]
}

// nodeNames returns the sorted, de-duplicated node names of ports
func nodeNames(ports []string) []string {
	seen := make(map[string]bool)
	var nodes []string
	for _, port := range ports {
		node := nodeOf(port)
		if !seen[node] {
			seen[node] = true
			nodes = append(nodes, node)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// validateNodeInList checks node presence and duplicate ports in a port list
func validateNodeInList(nodeName string, ports []string) error {
	found := false
	for _, port := range ports {
		if nodeOf(port) == nodeName {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("source not found: %s", nodeName)
	}

	for _, port := range ports {
		if nodeOf(port) != nodeName {
			continue
		}
		if duplicates := findPortDuplicatesInList(port, ports); len(duplicates) > 1 {
			slog.Debug("Duplicate PipeWire ports", "node", nodeName, "port", port, "count", len(duplicates))
			return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", nodeName, duplicates)
		}
	}

	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}

	return duplicates
}
