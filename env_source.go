// env_source.go: Environment file readers
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"
)

// parseSource dispatches on the file extension. YAML files must hold a flat
// mapping of scalars; everything else is read as dotenv.
func parseSource(path string, data []byte) (map[string]string, []*MalformedSourceError) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLSource(path, data)
	default:
		return parseDotEnvSource(path, data)
	}
}

// parseDotEnvSource validates each line on its own so a failure is always
// attributed to its line, then parses the valid lines as one document so
// ${VAR} references to earlier keys expand. Values cannot span lines.
func parseDotEnvSource(path string, data []byte) (map[string]string, []*MalformedSourceError) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	var (
		malformed []*MalformedSourceError
		lines     []string
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		raw := scanner.Text()
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			lines = append(lines, "")
			continue
		}
		if err := checkDotEnvLine(text); err != nil {
			malformed = append(malformed, &MalformedSourceError{Path: path, Line: len(lines) + 1, Err: err})
			lines = append(lines, "")
			continue
		}
		lines = append(lines, raw)
	}
	if err := scanner.Err(); err != nil {
		malformed = append(malformed, &MalformedSourceError{Path: path, Line: len(lines) + 1, Err: err})
	}

	vars, err := godotenv.UnmarshalBytes([]byte(strings.Join(lines, "\n")))
	if err != nil {
		malformed = append(malformed, &MalformedSourceError{Path: path, Line: dotEnvErrorLine(lines), Err: err})
		return make(map[string]string), malformed
	}
	return vars, malformed
}

// dotEnvErrorLine finds the first line at which the document stops parsing.
func dotEnvErrorLine(lines []string) int {
	for i := 1; i <= len(lines); i++ {
		if _, err := godotenv.UnmarshalBytes([]byte(strings.Join(lines[:i], "\n"))); err != nil {
			return i
		}
	}
	return len(lines)
}

// checkDotEnvLine reports whether a single line is one KEY=VALUE assignment.
func checkDotEnvLine(text string) error {
	eq := strings.IndexByte(text, '=')
	if eq < 0 {
		return fmt.Errorf("expected KEY=VALUE")
	}
	if strings.TrimSpace(strings.TrimPrefix(text[:eq], "export ")) == "" {
		return fmt.Errorf("empty key")
	}

	parsed, err := godotenv.Unmarshal(text)
	if err != nil {
		return err
	}
	if len(parsed) != 1 {
		return fmt.Errorf("expected exactly one assignment, got %d", len(parsed))
	}
	if _, ok := parsed[""]; ok {
		return fmt.Errorf("empty key")
	}
	return nil
}

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

func parseYAMLSource(path string, data []byte) (map[string]string, []*MalformedSourceError) {
	vars := make(map[string]string)

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return vars, []*MalformedSourceError{{Path: path, Line: yamlErrorLine(err), Err: err}}
	}
	if len(doc.Content) == 0 {
		return vars, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return vars, []*MalformedSourceError{{Path: path, Line: root.Line, Err: fmt.Errorf("expected a mapping of KEY: value")}}
	}

	var malformed []*MalformedSourceError
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.Value == "" {
			malformed = append(malformed, &MalformedSourceError{Path: path, Line: key.Line, Err: fmt.Errorf("invalid key")})
			continue
		}
		if value.Kind != yaml.ScalarNode {
			malformed = append(malformed, &MalformedSourceError{
				Path: path,
				Line: value.Line,
				Err:  fmt.Errorf("value for %s must be a scalar", key.Value),
			})
			continue
		}
		if value.Tag == "!!null" {
			vars[key.Value] = ""
			continue
		}
		vars[key.Value] = value.Value
	}

	return vars, malformed
}

func yamlErrorLine(err error) int {
	m := yamlLinePattern.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return 0
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return n
}
