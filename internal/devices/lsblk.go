package devices

import (
	"bufio"
	"strconv"
	"strings"
)

// parseLSBLK parses `lsblk -P` output into one map per line.
func parseLSBLK(output string) []map[string]string {
	var rows []map[string]string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row := parseKeyValueLine(line)
		if len(row) == 0 {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// parseKeyValueLine splits KEY="value" pairs. Quoted values may contain
// spaces; lsblk hex escapes such as \x20 are decoded.
func parseKeyValueLine(line string) map[string]string {
	result := make(map[string]string)
	for len(line) > 0 {
		line = strings.TrimLeft(line, " \t")
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			break
		}
		key := strings.TrimSpace(line[:eq])
		line = line[eq+1:]
		var value string
		if strings.HasPrefix(line, "\"") {
			end := strings.IndexByte(line[1:], '"')
			if end < 0 {
				value, line = line[1:], ""
			} else {
				value, line = line[1:end+1], line[end+2:]
			}
		} else {
			end := strings.IndexAny(line, " \t")
			if end < 0 {
				value, line = line, ""
			} else {
				value, line = line[:end], line[end:]
			}
		}
		result[key] = unescapeLSBLK(value)
	}
	return result
}

func unescapeLSBLK(value string) string {
	if !strings.Contains(value, `\x`) {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+3 < len(value) && value[i+1] == 'x' {
			if n, err := strconv.ParseUint(value[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(value[i])
	}
	return b.String()
}
